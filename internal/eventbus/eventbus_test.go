package eventbus_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fielddispatch/gateway/internal/domain"
	"github.com/fielddispatch/gateway/internal/eventbus"
)

func TestPublish_FanOutToMultipleSubscribers(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	subA := bus.Subscribe()
	subB := bus.Subscribe()
	defer bus.Unsubscribe(subA)
	defer bus.Unsubscribe(subB)

	bus.Publish(eventbus.JobCreated{JobID: domain.NewID(), At: time.Now()})

	for _, ch := range []<-chan eventbus.Event{subA.Ch, subB.Ch} {
		select {
		case ev := <-ch:
			_, ok := ev.(eventbus.JobCreated)
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber channel")
		}
	}
}

func TestPublish_NeverBlocksOnFullSubscriberBuffer(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(eventbus.JobCreated{JobID: domain.NewID(), At: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	require.True(t, true)
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	bus := eventbus.New(zerolog.Nop())
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, open := <-sub.Ch
	assert.False(t, open)
}
