// Package repair holds the per-guild suppression flag that stops the
// engine's own remediation from being read back as a fresh attack. The
// Detector checks this lock before anything else, so every platform mutation
// the pipeline issues is invisible to detection for the lock's lifetime.
package repair

import (
	"sync"
	"time"
)

// DefaultCeiling is the hard upper bound on one repair. A crash mid-repair
// must never silence detection for a guild indefinitely.
const DefaultCeiling = 5 * time.Minute

// selfActionLinger is how long recorded self-action ids stay recognizable
// after the repair releases. Gateway echoes of the pipeline's own mutations
// can arrive after Exit; without the linger they would be scored as fresh
// actions.
const selfActionLinger = time.Minute

type State struct {
	IncidentID string
	StartedAt  time.Time
}

type repairState struct {
	incidentID string
	startedAt  time.Time
}

// selfSet tracks the object ids one repair touched. exitedAt stays zero
// while the repair is active; once set, the whole set expires after the
// linger window.
type selfSet struct {
	ids      map[string]struct{}
	exitedAt time.Time
}

type Lock struct {
	mu      sync.Mutex
	states  map[string]*repairState
	self    map[string]*selfSet
	ceiling time.Duration
	now     func() time.Time
}

func NewLock() *Lock {
	return &Lock{
		states:  make(map[string]*repairState),
		self:    make(map[string]*selfSet),
		ceiling: DefaultCeiling,
		now:     time.Now,
	}
}

// Enter marks a repair active for a guild on behalf of an incident.
func (l *Lock) Enter(guildID, incidentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[guildID] = &repairState{
		incidentID: incidentID,
		startedAt:  l.now(),
	}
	l.self[guildID] = &selfSet{ids: make(map[string]struct{})}
}

// IsActive reports whether a repair is running for the guild, auto-expiring
// entries past the hard ceiling.
func (l *Lock) IsActive(guildID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[guildID]
	if !ok {
		return false
	}
	if l.now().Sub(st.startedAt) > l.ceiling {
		l.release(guildID)
		return false
	}
	return true
}

// Exit releases the repair flag, but only on behalf of the incident that
// holds it: a pipeline that overran the ceiling must not free a lock a
// newer incident has since taken.
func (l *Lock) Exit(guildID, incidentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[guildID]
	if !ok || st.incidentID != incidentID {
		return
	}
	l.release(guildID)
}

// release drops the state and starts the self-action linger clock. Caller
// holds the mutex.
func (l *Lock) release(guildID string) {
	delete(l.states, guildID)
	if ss, ok := l.self[guildID]; ok {
		ss.exitedAt = l.now()
	}
}

// MarkSelfAction records an object id the repair pipeline itself touched.
func (l *Lock) MarkSelfAction(guildID, targetID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.states[guildID]; !ok {
		return
	}
	if ss, ok := l.self[guildID]; ok {
		ss.ids[targetID] = struct{}{}
	}
}

// IsSelfAction reports whether the repair pipeline (an active one, or one
// that released within the linger window) touched the object.
func (l *Lock) IsSelfAction(guildID, targetID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ss, ok := l.self[guildID]
	if !ok {
		return false
	}
	if !ss.exitedAt.IsZero() && l.now().Sub(ss.exitedAt) > selfActionLinger {
		delete(l.self, guildID)
		return false
	}
	_, ok = ss.ids[targetID]
	return ok
}

// Current returns the repair state for a guild, if any.
func (l *Lock) Current(guildID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[guildID]
	if !ok {
		return State{}, false
	}
	return State{IncidentID: st.incidentID, StartedAt: st.startedAt}, true
}

// Sweep expires every state past the ceiling and every lingered-out
// self-action set. Called from the background sweep task so stale locks are
// reaped even for idle guilds.
func (l *Lock) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for gid, st := range l.states {
		if now.Sub(st.startedAt) > l.ceiling {
			l.release(gid)
		}
	}
	for gid, ss := range l.self {
		if !ss.exitedAt.IsZero() && now.Sub(ss.exitedAt) > selfActionLinger {
			delete(l.self, gid)
		}
	}
}
