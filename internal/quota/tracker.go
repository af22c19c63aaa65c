package quota

import (
	"sync"
	"time"

	"guildguard/internal/config"
	"guildguard/internal/models"
)

type key struct {
	guildID string
	actorID string
	action  models.ActionType
}

// Tracker maintains the per-(guild, actor, action) burst windows and the
// hourly/daily cumulative buckets. It is pure bookkeeping: limits arrive from
// the caller, already resolved against the guild's effective configuration.
type Tracker struct {
	mu     sync.Mutex
	burst  map[key][]models.ActionEvent
	hourly map[key][]time.Time
	daily  map[key][]time.Time
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		burst:  make(map[key][]models.ActionEvent),
		hourly: make(map[key][]time.Time),
		daily:  make(map[key][]time.Time),
		now:    time.Now,
	}
}

// Track records one action and evaluates burst first, then cumulative.
// When burst already signals, cumulative counters are still fed for future
// evaluations but a same-cycle cumulative violation is not surfaced.
// Returns nil when the action is benign.
func (t *Tracker) Track(ev models.ActionEvent, rule config.BurstRule, cum config.CumulativeLimits, cumTracked bool) *models.Violation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	k := key{guildID: ev.GuildID, actorID: ev.ActorID, action: ev.Type}

	var v *models.Violation

	if rule.Limit > 0 && rule.Window > 0 {
		window := pruneEvents(t.burst[k], now.Add(-rule.Window))
		window = append(window, ev)
		t.burst[k] = window

		// Burst trips at the limit itself.
		if len(window) >= rule.Limit {
			actions := make([]models.ActionEvent, len(window))
			copy(actions, window)
			v = &models.Violation{
				Type:       models.ViolationBurst,
				Action:     ev.Type,
				Count:      len(window),
				Limit:      rule.Limit,
				Window:     rule.Window,
				DetectedAt: now,
				Actions:    actions,
			}
		}
	}

	if cumTracked {
		hourly := pruneTimes(t.hourly[k], now.Add(-time.Hour))
		hourly = append(hourly, now)
		t.hourly[k] = hourly

		daily := pruneTimes(t.daily[k], now.Add(-24*time.Hour))
		daily = append(daily, now)
		t.daily[k] = daily

		// Cumulative trips only strictly beyond the limit. Kept as-is for
		// behavioral parity with the burst/cumulative asymmetry upstream.
		if v == nil {
			switch {
			case cum.Hourly > 0 && len(hourly) > cum.Hourly:
				v = &models.Violation{
					Type:       models.ViolationCumulative,
					Action:     ev.Type,
					Count:      len(hourly),
					Limit:      cum.Hourly,
					Quota:      models.QuotaHourly,
					DetectedAt: now,
				}
			case cum.Daily > 0 && len(daily) > cum.Daily:
				v = &models.Violation{
					Type:       models.ViolationCumulative,
					Action:     ev.Type,
					Count:      len(daily),
					Limit:      cum.Daily,
					Quota:      models.QuotaDaily,
					DetectedAt: now,
				}
			}
		}
	}

	return v
}

// Sweep prunes every bucket and drops keys whose buckets are all empty.
// Runs from the hourly background task to amortize memory.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, evs := range t.burst {
		// A minute comfortably exceeds the longest burst window.
		kept := pruneEvents(evs, now.Add(-time.Minute))
		if len(kept) == 0 {
			delete(t.burst, k)
		} else {
			t.burst[k] = kept
		}
	}
	for k, ts := range t.hourly {
		kept := pruneTimes(ts, now.Add(-time.Hour))
		if len(kept) == 0 {
			delete(t.hourly, k)
		} else {
			t.hourly[k] = kept
		}
	}
	for k, ts := range t.daily {
		kept := pruneTimes(ts, now.Add(-24*time.Hour))
		if len(kept) == 0 {
			delete(t.daily, k)
		} else {
			t.daily[k] = kept
		}
	}
}

// ClearGuild drops every counter for a guild, used when the bot rejoins and
// stale actor history must not carry over.
func (t *Tracker) ClearGuild(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k := range t.burst {
		if k.guildID == guildID {
			delete(t.burst, k)
		}
	}
	for k := range t.hourly {
		if k.guildID == guildID {
			delete(t.hourly, k)
		}
	}
	for k := range t.daily {
		if k.guildID == guildID {
			delete(t.daily, k)
		}
	}
}

func pruneEvents(evs []models.ActionEvent, cutoff time.Time) []models.ActionEvent {
	i := 0
	for i < len(evs) && !evs[i].Timestamp.After(cutoff) {
		i++
	}
	if i == 0 {
		return evs
	}
	return append(evs[:0:0], evs[i:]...)
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
