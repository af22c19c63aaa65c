package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHealthyUntilThresholdExceeded(t *testing.T) {
	w := New(time.Second, zap.NewNop())
	w.Register("snapshot-loop", 50*time.Millisecond)

	beat := w.Beat("snapshot-loop")
	beat()
	w.check()
	assert.True(t, w.IsHealthy("snapshot-loop"))

	time.Sleep(80 * time.Millisecond)
	w.check()
	assert.False(t, w.IsHealthy("snapshot-loop"))
}

func TestBeatRecoversStalledComponent(t *testing.T) {
	w := New(time.Second, zap.NewNop())
	w.Register("backup-loop", 10*time.Millisecond)

	beat := w.Beat("backup-loop")
	beat()
	time.Sleep(30 * time.Millisecond)
	w.check()
	assert.False(t, w.IsHealthy("backup-loop"))

	beat()
	assert.True(t, w.IsHealthy("backup-loop"))
}

func TestNeverBeatenComponentStaysHealthy(t *testing.T) {
	// A loop that has not started yet is not a stall.
	w := New(time.Second, zap.NewNop())
	w.Register("sweep-loop", time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	w.check()
	assert.True(t, w.IsHealthy("sweep-loop"))
}

func TestUnknownComponent(t *testing.T) {
	w := New(time.Second, zap.NewNop())
	assert.False(t, w.IsHealthy("nope"))
	assert.NotPanics(t, w.Beat("nope"))
}

func TestStatus(t *testing.T) {
	w := New(time.Second, zap.NewNop())
	w.Register("a", time.Minute)
	w.Register("b", time.Minute)
	w.Beat("a")()

	status := w.Status()
	assert.Equal(t, map[string]bool{"a": true, "b": true}, status)
}
