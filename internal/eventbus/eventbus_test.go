package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(4)

	line := b.Publish(Event{Type: CycleStart, Message: "cycle 1"})
	assert.Equal(t, "[CYCLE_START] cycle 1", line)

	select {
	case ev := <-sub:
		assert.Equal(t, CycleStart, ev.Type)
		assert.NotZero(t, ev.Millis)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Publish(Event{Type: CycleStart, Message: "1"})

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: CycleEnd, Message: "2"}) // subscriber buffer full, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	require.Len(t, sub, 1)
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := New()
	s1 := b.Subscribe(1)
	s2 := b.Subscribe(1)

	b.Publish(Event{Type: Shutdown, Message: "bye"})

	ev1 := <-s1
	ev2 := <-s2
	assert.Equal(t, Shutdown, ev1.Type)
	assert.Equal(t, Shutdown, ev2.Type)
}
