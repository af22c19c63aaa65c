package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(SecurityEvent{Type: "incident_completed", GuildID: "g1"})

	for _, ch := range []<-chan SecurityEvent{a, c} {
		select {
		case ev := <-ch:
			assert.Equal(t, "g1", ev.GuildID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBus()
	b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(SecurityEvent{Type: "incident_completed"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestExplicitTimestampPreserved(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	b.Publish(SecurityEvent{Type: "incident_completed", Timestamp: ts})

	ev := <-ch
	require.Equal(t, ts, ev.Timestamp)
}
