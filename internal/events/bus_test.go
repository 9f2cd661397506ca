package events

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(EventFileValidated, func(evt Event) {
		received <- evt
	})

	bus.Publish(EventFileValidated, map[string]interface{}{"file": "test_users.py"})

	select {
	case evt := <-received:
		assert.Equal(t, EventFileValidated, evt.Type)
		assert.Equal(t, "test_users.py", evt.Data["file"])
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_SubscribersAreTypeScoped(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var quarantined atomic.Int64
	bus.Subscribe(EventFileQuarantined, func(Event) {
		quarantined.Add(1)
	})

	bus.Publish(EventFileValidated, nil)
	bus.Publish(EventFileQuarantined, nil)

	waitFor(t, func() bool { return quarantined.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), quarantined.Load())
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var count atomic.Int64
	unsubscribe := bus.Subscribe(EventFileRecovered, func(Event) {
		count.Add(1)
	})

	bus.Publish(EventFileRecovered, nil)
	waitFor(t, func() bool { return count.Load() == 1 })

	unsubscribe()
	bus.Publish(EventFileRecovered, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())
}

func TestBus_PanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var healthy atomic.Int64
	bus.Subscribe(EventFileValidated, func(Event) {
		panic("broken handler")
	})
	bus.Subscribe(EventFileValidated, func(Event) {
		healthy.Add(1)
	})

	bus.Publish(EventFileValidated, nil)
	bus.Publish(EventFileValidated, nil)

	waitFor(t, func() bool { return healthy.Load() == 2 })
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	var delivered atomic.Int64
	bus.Subscribe(EventFileValidated, func(Event) {
		<-block
		delivered.Add(1)
	})

	// First event occupies the handler, second fills the buffer, the rest
	// must drop without blocking this goroutine.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(EventFileValidated, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	close(block)
	waitFor(t, func() bool { return delivered.Load() >= 1 })
	require.LessOrEqual(t, delivered.Load(), int64(2))
}
