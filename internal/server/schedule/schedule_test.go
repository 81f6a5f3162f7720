package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sharebeam/internal/errs"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWindow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		wantErr bool
	}{
		{"no timers", Window{}, false},
		{"start only, in the past", Window{StartAt: base.Add(-time.Minute)}, false},
		{"start only, in the future", Window{StartAt: base.Add(time.Minute)}, false},
		{"stop only, in the future", Window{StopAt: base.Add(time.Minute)}, false},
		{"stop only, now", Window{StopAt: base}, true},
		{"stop only, in the past", Window{StopAt: base.Add(-time.Second)}, true},
		{"start before stop", Window{StartAt: base.Add(time.Minute), StopAt: base.Add(2 * time.Minute)}, false},
		{"start equals stop", Window{StartAt: base.Add(time.Minute), StopAt: base.Add(time.Minute)}, true},
		{"start after stop", Window{StartAt: base.Add(2 * time.Minute), StopAt: base.Add(time.Minute)}, true},
		{"start past, stop future", Window{StartAt: base.Add(-time.Minute), StopAt: base.Add(time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate(base)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrInvalidSchedule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWindow_Decide(t *testing.T) {
	w := Window{StartAt: base.Add(time.Minute), StopAt: base.Add(2 * time.Minute)}

	t.Run("idle never transitions", func(t *testing.T) {
		assert.Equal(t, None, w.Decide(PhaseIdle, base.Add(time.Hour)))
	})

	t.Run("scheduled waits for autostart", func(t *testing.T) {
		assert.Equal(t, None, w.Decide(PhaseScheduled, base))
		assert.Equal(t, StartNow, w.Decide(PhaseScheduled, base.Add(time.Minute)))
		assert.Equal(t, StartNow, w.Decide(PhaseScheduled, base.Add(90*time.Second)))
	})

	t.Run("started waits for autostop", func(t *testing.T) {
		assert.Equal(t, None, w.Decide(PhaseStarted, base.Add(time.Minute)))
		assert.Equal(t, StopNow, w.Decide(PhaseStarted, base.Add(2*time.Minute)))
	})

	t.Run("no autostop keeps running", func(t *testing.T) {
		open := Window{StartAt: base}
		assert.Equal(t, None, open.Decide(PhaseStarted, base.Add(24*time.Hour)))
	})

	t.Run("scheduled without autostart starts", func(t *testing.T) {
		assert.Equal(t, StartNow, Window{}.Decide(PhaseScheduled, base))
	})
}

func TestRunner(t *testing.T) {
	var ticks atomic.Int32
	clock := func() time.Time { return base }

	var seen atomic.Value
	r := NewRunner(5*time.Millisecond, clock, func(now time.Time) {
		seen.Store(now)
		ticks.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	r.Wait()

	assert.Equal(t, base, seen.Load())

	after := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no ticks after Wait returns")
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "start", StartNow.String())
	assert.Equal(t, "stop", StopNow.String())
}
