// Package reporters contains the built-in Reporter plugins: a structured log
// reporter, a SQLite error store, a Prometheus counter and a live event
// stream publisher.
package reporters

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/route"
)

// Default burst for a rate-limited LogReporter.
const DefaultLogBurst = 10

// LogReporter writes one structured log line per handled error.
//
// Attributes:
//
//	level  debug|info|warn|error; default derives from the error type
//	rate   max lines per second, 0 or absent for unlimited
//	burst  limiter burst, default 10
type LogReporter struct {
	log     *logger.Logger
	level   *slog.Level
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewLogReporter builds a LogReporter writing through l.
func NewLogReporter(l *logger.Logger, attrs configtree.Attributes) (*LogReporter, error) {
	if l == nil {
		l = logger.Global()
	}
	r := &LogReporter{log: l.WithComponent("reporter.log")}

	if v := attrs.Get("level"); v != "" {
		switch logger.LogLevel(v) {
		case logger.LevelDebug, logger.LevelInfo, logger.LevelWarn, logger.LevelError:
		default:
			return nil, fmt.Errorf("invalid level %q", v)
		}
		lvl := logger.ParseLevel(v)
		r.level = &lvl
	}

	if v := attrs.Get("rate"); v != "" {
		perSecond, err := strconv.ParseFloat(v, 64)
		if err != nil || perSecond < 0 {
			return nil, fmt.Errorf("invalid rate %q", v)
		}
		burst := DefaultLogBurst
		if b := attrs.Get("burst"); b != "" {
			burst, err = strconv.Atoi(b)
			if err != nil || burst < 1 {
				return nil, fmt.Errorf("invalid burst %q", b)
			}
		}
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}

	return r, nil
}

// Report logs req. Lines over the configured rate are counted and dropped.
func (r *LogReporter) Report(ctx context.Context, req *mvc.Request, errorType route.ErrorType) error {
	if r.limiter != nil && !r.limiter.Allow() {
		r.dropped.Add(1)
		return nil
	}

	attrs := []slog.Attr{
		slog.String("request_id", req.ID),
		slog.String("class", req.ClassName),
		slog.String("error", req.Message()),
		slog.String("error_type", errorType.String()),
		slog.Int("http_status", req.Route.HTTPStatus),
		slog.String("controller", req.Route.Controller),
	}
	if len(req.Stack) > 0 {
		top := req.Stack[0]
		attrs = append(attrs, slog.String("origin", fmt.Sprintf("%s:%d", top.File, top.Line)))
	}

	r.log.LogAttrs(ctx, r.levelFor(errorType), "error handled", attrs...)
	return nil
}

func (r *LogReporter) levelFor(t route.ErrorType) slog.Level {
	if r.level != nil {
		return *r.level
	}
	switch t {
	case route.ErrorTypeNotice:
		return slog.LevelInfo
	case route.ErrorTypeWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Dropped returns how many reports were suppressed by the rate limit.
func (r *LogReporter) Dropped() int64 {
	return r.dropped.Load()
}
