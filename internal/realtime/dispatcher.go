package realtime

import (
	"sync"

	"github.com/fansync/fansync/internal/metrics"

	"github.com/rs/zerolog"
)

// PushHandler receives decoded device-state deltas. It may be slow and may
// call back into the client: it runs on the dispatcher goroutine, outside
// any lock held by the receive loop.
type PushHandler func(deviceID string, status map[string]int)

type pushEvent struct {
	deviceID string
	status   map[string]int
}

const dispatchQueueSize = 256

// Dispatcher invokes the single registered subscriber callback once per
// received push frame, in arrival order, decoupled from the receive loop by
// a bounded queue. If the subscriber cannot keep up events are dropped and
// counted rather than blocking the receive loop.
type Dispatcher struct {
	mu      sync.RWMutex
	handler PushHandler

	queue chan pushEvent
	stop  chan struct{}
	once  sync.Once

	log       zerolog.Logger
	collector *metrics.Collector
}

func NewDispatcher(logger zerolog.Logger, collector *metrics.Collector) *Dispatcher {
	d := &Dispatcher{
		queue:     make(chan pushEvent, dispatchQueueSize),
		stop:      make(chan struct{}),
		log:       logger,
		collector: collector,
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case ev := <-d.queue:
			d.mu.RLock()
			handler := d.handler
			d.mu.RUnlock()
			if handler != nil {
				handler(ev.deviceID, ev.status)
			}
		case <-d.stop:
			return
		}
	}
}

// SetHandler registers the subscriber callback. Replacing it drops the
// previous one.
func (d *Dispatcher) SetHandler(handler PushHandler) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

// Dispatch queues a state delta for the subscriber. Never blocks the caller.
func (d *Dispatcher) Dispatch(deviceID string, status map[string]int) {
	select {
	case <-d.stop:
		return
	default:
	}
	select {
	case d.queue <- pushEvent{deviceID: deviceID, status: status}:
	default:
		if d.collector != nil {
			d.collector.RecordPushDropped()
		}
		d.log.Warn().Str("device", deviceID).Msg("push dispatch queue full, dropping update")
	}
}

// Close stops the dispatcher goroutine. Idempotent.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
	})
}
