package eventbus

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	errsys "github.com/armorclaw/stderr/pkg/errors"
	"github.com/armorclaw/stderr/pkg/route"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// FilterFromQuery reads a filter from ?class=A&class=B&min_type=2.
func FilterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{Classes: q["class"]}
	if v, err := strconv.Atoi(q.Get("min_type")); err == nil {
		f.MinType = route.ErrorType(v)
	}
	return f
}

// ServeHTTP upgrades the request to a websocket and streams matching events
// as JSON text frames until either side closes.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, err := b.Subscribe(FilterFromQuery(r))
	if err != nil {
		status := http.StatusServiceUnavailable
		if errsys.HasCode(err, errsys.CodeSubscriberLimit) {
			status = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = b.Unsubscribe(sub.ID)
		b.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	log := b.log.With("subscriber_id", sub.ID)
	log.Info("stream client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(conn)
	}()

	writePump(conn, sub, done)

	_ = b.Unsubscribe(sub.ID)
	conn.Close()
	log.Info("stream client disconnected", "dropped", sub.Dropped())
}

// readPump discards client frames; it exists to process pongs and notice the
// client going away.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
