// README: Non-blocking publisher wrapper; the engine never waits on transports.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ridebid/internal/observability"
)

const publishTimeout = 5 * time.Second

type Async struct {
	next  Publisher
	log   *zap.Logger
	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Publisher, buffer int, log *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &Async{
		next:  next,
		log:   log,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues e. Overflow is dropped and counted; no error is returned.
func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- e:
	default:
		observability.SideChannelFailures.WithLabelValues("events_dropped").Inc()
		a.log.Warn("event queue full, event dropped", zap.String("event", string(e.Name)), zap.String("ride_id", string(e.RideID)))
	}
	return nil
}

func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.next.Publish(ctx, e); err != nil {
			observability.SideChannelFailures.WithLabelValues("events").Inc()
			a.log.Warn("publish event failed", zap.String("event", string(e.Name)), zap.String("ride_id", string(e.RideID)), zap.Error(err))
		}
		cancel()
	}
}
