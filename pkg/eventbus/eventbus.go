// Package eventbus fans handled errors out to live subscribers, such as
// websocket clients watching a running service.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/route"
)

// Event describes one handled error.
type Event struct {
	Sequence   int64           `json:"sequence"`
	RequestID  string          `json:"request_id"`
	Class      string          `json:"class"`
	Message    string          `json:"message,omitempty"`
	ErrorType  route.ErrorType `json:"error_type"`
	HTTPStatus int             `json:"http_status"`
	Controller string          `json:"controller,omitempty"`
	Time       time.Time       `json:"time"`
}

// Filter selects the events a subscriber receives. The zero Filter matches
// everything.
type Filter struct {
	Classes []string        // only these classes (empty = all)
	MinType route.ErrorType // only error types at or above this one
}

// Matches reports whether ev passes f.
func (f Filter) Matches(ev *Event) bool {
	if ev.ErrorType < f.MinType {
		return false
	}
	if len(f.Classes) == 0 {
		return true
	}
	for _, c := range f.Classes {
		if c == ev.Class {
			return true
		}
	}
	return false
}

// Subscriber receives matching events on C until it is unsubscribed or the
// bus closes, after which C is closed.
type Subscriber struct {
	ID      string
	Filter  Filter
	Created time.Time

	ch      chan *Event
	dropped atomic.Int64
	once    sync.Once
}

// C returns the delivery channel.
func (s *Subscriber) C() <-chan *Event {
	return s.ch
}

// Dropped counts events skipped because the subscriber's buffer was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Config holds bus limits.
type Config struct {
	MaxSubscribers int // 0 = unlimited
	Buffer         int // per-subscriber channel size
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxSubscribers: 100,
		Buffer:         64,
	}
}

// Bus distributes events to subscribers. Publishing never blocks: a slow
// subscriber loses events instead.
type Bus struct {
	cfg Config
	log *logger.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool

	seq atomic.Int64
}

// New creates a bus. A nil logger uses the global one.
func New(cfg Config, l *logger.Logger) *Bus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if l == nil {
		l = logger.Global()
	}
	return &Bus{
		cfg:  cfg,
		log:  l.WithComponent("eventbus"),
		subs: make(map[string]*Subscriber),
	}
}

// Publish stamps ev with the next sequence number and delivers it to every
// matching subscriber. It returns how many subscribers received it.
func (b *Bus) Publish(ev *Event) int {
	if ev == nil {
		return 0
	}
	ev.Sequence = b.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for id, sub := range b.subs {
		if !sub.Filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			sub.dropped.Add(1)
			b.log.Debug("event dropped", "subscriber_id", id, "class", ev.Class)
		}
	}
	return delivered
}

// Subscribe registers a subscriber for events matching f.
func (b *Bus) Subscribe(f Filter) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errsys.New(errsys.CodeBusClosed, "cannot subscribe to a closed event bus")
	}
	if b.cfg.MaxSubscribers > 0 && len(b.subs) >= b.cfg.MaxSubscribers {
		return nil, errsys.NewBuilder(errsys.CodeSubscriberLimit).
			WithInput("max", b.cfg.MaxSubscribers).
			Build()
	}

	sub := &Subscriber{
		ID:      uuid.NewString(),
		Filter:  f,
		Created: time.Now(),
		ch:      make(chan *Event, b.cfg.Buffer),
	}
	b.subs[sub.ID] = sub

	b.log.Debug("subscriber added", "subscriber_id", sub.ID, "classes", f.Classes, "min_type", f.MinType.String())
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return errsys.Newf(errsys.CodeSubscriberNotFound, "subscriber %s not found", id)
	}
	delete(b.subs, id)
	sub.close()

	b.log.Debug("subscriber removed", "subscriber_id", id, "dropped", sub.Dropped())
	return nil
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber. Later Publish calls deliver nothing and
// Subscribe fails.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}
