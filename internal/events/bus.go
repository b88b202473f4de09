// Package events carries scan lifecycle notifications from the engine to
// transports. The bus never lets a slow subscriber stall a scan: each
// subscriber has a bounded FIFO buffer and events are dropped once it fills.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type subscriber struct {
	ch chan types.Event
}

type bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	bufSize int
	closed  bool
	logger  *logger.Logger

	// dropped counts events discarded on full subscriber buffers. Publishers
	// run concurrently under the read lock, so the counter is atomic.
	dropped atomic.Int64
}

func NewBus(bufferSize int, log *logger.Logger) core.EventBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &bus{
		subs:    make(map[*subscriber]struct{}),
		bufSize: bufferSize,
		logger:  log.WithComponent("events"),
	}
}

func (b *bus) Publish(event types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Buffer full: drop rather than block the scan.
			b.dropped.Add(1)
			b.logger.Debugw("Dropped event for slow subscriber",
				"kind", event.Kind,
				"scan_id", event.ScanID,
			)
		}
	}
}

// Dropped reports how many events have been discarded across all
// subscribers since the bus was created.
func (b *bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *bus) Subscribe() (<-chan types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan types.Event, b.bufSize)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, unsubscribe
}

func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}
