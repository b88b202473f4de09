package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/pkg/types"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus(16, logger.Nop())
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		b.Publish(types.Event{Kind: types.EventScanProgress, ScanID: fmt.Sprintf("scan-%d", i)})
	}

	for i := 0; i < 5; i++ {
		select {
		case event := <-ch:
			assert.Equal(t, fmt.Sprintf("scan-%d", i), event.ScanID)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus(2, logger.Nop())
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// Publish more than the buffer without draining; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(types.Event{Kind: types.EventScanProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	assert.Len(t, ch, 2, "only the buffered events survive")
	assert.Equal(t, int64(8), b.(*bus).Dropped())
}

func TestBusConcurrentPublishersCountDrops(t *testing.T) {
	b := NewBus(1, logger.Nop())
	defer b.Close()

	_, unsubscribe := b.Subscribe()
	defer unsubscribe()

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(types.Event{Kind: types.EventScanProgress})
			}
		}()
	}
	wg.Wait()

	// One event fits in the buffer; every other publish is a drop.
	assert.Equal(t, int64(publishers*perPublisher-1), b.(*bus).Dropped())
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := NewBus(16, logger.Nop())
	defer b.Close()

	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Publish(types.Event{Kind: types.EventScanStarted, ScanID: "scan-1"})

	for i, ch := range []<-chan types.Event{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, "scan-1", event.ScanID)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(16, logger.Nop())
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	unsubscribe()
	unsubscribe() // idempotent

	b.Publish(types.Event{Kind: types.EventScanStarted})

	_, open := <-ch
	assert.False(t, open, "channel closes on unsubscribe")
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	b := NewBus(16, logger.Nop())
	ch, unsubscribe := b.Subscribe()

	b.Close()
	b.Publish(types.Event{Kind: types.EventScanStarted}) // no panic after close

	_, open := <-ch
	assert.False(t, open)

	unsubscribe() // safe after close

	// Subscribing on a closed bus yields an already-closed channel.
	late, lateUnsub := b.Subscribe()
	defer lateUnsub()
	_, open = <-late
	require.False(t, open)
}
