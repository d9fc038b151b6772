package event

import (
	"context"
	"log/slog"
	"sync"
)

type Handler func(ctx context.Context, e Event) error

// events is the process-wide channel Send publishes to. Buffered so emitters
// never block on slow handlers.
var events = make(chan Event, 256)

type Listener struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewListener(logger *slog.Logger) *Listener {
	return &Listener{logger: logger}
}

func (l *Listener) Register(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Listen dispatches published events to every registered handler until the
// context is cancelled. Handler errors are logged, never propagated: a failing
// notification bridge must not take the session down.
func (l *Listener) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			l.mu.RLock()
			handlers := make([]Handler, len(l.handlers))
			copy(handlers, l.handlers)
			l.mu.RUnlock()

			for _, h := range handlers {
				if err := h(ctx, e); err != nil {
					l.logger.Warn("Error running event handler", slog.Any("error", err))
				}
			}
		}
	}
}

// Send publishes an event to the process-wide bus. Drops the event if the bus
// is saturated rather than blocking the emitter.
func Send(e Event) {
	select {
	case events <- e:
	default:
	}
}
