// Package watchdog tracks the liveness of the background loops. Each loop
// reports a heartbeat; a loop that goes silent past its threshold is flagged
// and logged until it recovers.
package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

type component struct {
	name          string
	lastHeartbeat atomic.Int64
	healthy       atomic.Bool
	threshold     time.Duration
}

type Watchdog struct {
	components    map[string]*component
	checkInterval time.Duration
	log           *zap.Logger
}

// New builds a watchdog. Register every component before Run; the component
// map is read-only afterwards.
func New(checkInterval time.Duration, log *zap.Logger) *Watchdog {
	return &Watchdog{
		components:    make(map[string]*component),
		checkInterval: checkInterval,
		log:           log,
	}
}

func (w *Watchdog) Register(name string, threshold time.Duration) {
	c := &component{name: name, threshold: threshold}
	c.healthy.Store(true)
	w.components[name] = c
}

// Beat returns the heartbeat func for a registered component, suitable for
// handing to the component's loop.
func (w *Watchdog) Beat(name string) func() {
	comp, ok := w.components[name]
	if !ok {
		return func() {}
	}
	return func() {
		comp.lastHeartbeat.Store(time.Now().UnixNano())
		comp.healthy.Store(true)
	}
}

func (w *Watchdog) IsHealthy(name string) bool {
	comp, ok := w.components[name]
	return ok && comp.healthy.Load()
}

func (w *Watchdog) Status() map[string]bool {
	out := make(map[string]bool, len(w.components))
	for name, comp := range w.components {
		out[name] = comp.healthy.Load()
	}
	return out
}

// Run checks heartbeats until the context ends, logging a resource snapshot
// alongside any stalled component.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	now := time.Now().UnixNano()
	for name, comp := range w.components {
		last := comp.lastHeartbeat.Load()
		if last == 0 {
			// Not beating yet; the loop may still be starting.
			continue
		}
		elapsed := time.Duration(now - last)
		if elapsed > comp.threshold {
			comp.healthy.Store(false)
			w.log.Error("component stalled",
				zap.String("component", name),
				zap.Duration("silent_for", elapsed),
				zap.Float64("cpu_percent", cpuPercent()),
				zap.Float64("mem_percent", memPercent()))
		}
	}
}

func cpuPercent() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0]
}

func memPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}
