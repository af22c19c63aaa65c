package notifier

import (
	"sync"
	"time"
)

// SecurityEvent is the structured record published to external subscribers
// (a dashboard, an export pipeline) when an incident completes.
type SecurityEvent struct {
	Type       string    `json:"type"`
	GuildID    string    `json:"guild_id"`
	ActorID    string    `json:"actor_id"`
	IncidentID string    `json:"incident_id"`
	Summary    string    `json:"summary"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bus is an in-process pub/sub fan-out. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// remediation path.
type Bus struct {
	mu   sync.RWMutex
	subs []chan SecurityEvent
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe() <-chan SecurityEvent {
	ch := make(chan SecurityEvent, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(ev SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
