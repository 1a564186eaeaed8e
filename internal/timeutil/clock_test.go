package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(10 * time.Millisecond)
	clock.Sleep(15 * time.Millisecond)

	if got := clock.Since(start); got != 25*time.Millisecond {
		t.Errorf("Since() = %v, want 25ms", got)
	}
	if got := clock.Elapsed(); got != 25*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 25ms", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 10*time.Millisecond || sleeps[1] != 15*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_OnSleepHook(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	var seen []time.Duration
	clock.OnSleep(func(now time.Time) {
		seen = append(seen, now.Sub(start))
	})
	clock.Sleep(time.Second)
	clock.Sleep(time.Second)

	if len(seen) != 2 || seen[0] != time.Second || seen[1] != 2*time.Second {
		t.Errorf("hook saw %v", seen)
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Minute)
	if !clock.Now().Equal(start.Add(time.Minute)) {
		t.Errorf("Now() = %v after Advance", clock.Now())
	}
	later := start.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() = %v after Set", clock.Now())
	}
	if len(clock.Sleeps()) != 0 {
		t.Error("Advance/Set should not record sleeps")
	}
}
