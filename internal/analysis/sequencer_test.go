package analysis

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"soil-rover/internal/clock"
	"soil-rover/internal/soil"
)

type recorder struct {
	statuses []string
	readings []float64
	done     int
}

func newTestSequencer(t *testing.T) (*Sequencer, *clock.Manual, *sync.Mutex, *recorder) {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	mu := &sync.Mutex{}
	rec := &recorder{}
	s := New(Config{
		Clock: c,
		Lock:  mu,
		Hooks: Hooks{
			Status:  func(text string) { rec.statuses = append(rec.statuses, text) },
			Reading: func(ph float64, _ soil.Parameters) { rec.readings = append(rec.readings, ph) },
			Done:    func() { rec.done++ },
		},
	})
	return s, c, mu, rec
}

func TestSequencer_FullCycle(t *testing.T) {
	s, c, mu, rec := newTestSequencer(t)

	mu.Lock()
	if !s.Start(soil.Parameters{Type: soil.Loam, Moisture: soil.Medium}) {
		mu.Unlock()
		t.Fatalf("Start() = false from idle")
	}
	if s.Phase() != Sampling {
		t.Fatalf("phase=%s want sampling", s.Phase())
	}
	mu.Unlock()

	c.Advance(1999 * time.Millisecond)
	mu.Lock()
	if s.Phase() != Sampling {
		t.Fatalf("phase=%s before delay elapsed", s.Phase())
	}
	mu.Unlock()

	c.Advance(time.Millisecond)
	mu.Lock()
	if s.Phase() != Reporting {
		t.Fatalf("phase=%s want reporting at 2000ms", s.Phase())
	}
	ph, ok := s.LastPH()
	mu.Unlock()
	if !ok || ph != 7.0 {
		t.Fatalf("LastPH=%v,%v want 7,true", ph, ok)
	}

	c.Advance(2000 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if s.Phase() != Idle {
		t.Fatalf("phase=%s want idle at 4000ms", s.Phase())
	}
	if rec.done != 1 {
		t.Fatalf("done=%d want 1", rec.done)
	}
	want := []string{StatusAnalyzing, "pH: 7.00", StatusReady}
	if len(rec.statuses) != len(want) {
		t.Fatalf("statuses=%v want %v", rec.statuses, want)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Fatalf("statuses=%v want %v", rec.statuses, want)
		}
	}
}

func TestSequencer_StartRejectedWhileActive(t *testing.T) {
	s, c, mu, rec := newTestSequencer(t)

	mu.Lock()
	s.Start(soil.Parameters{Type: soil.Clay})
	if s.Start(soil.Parameters{Type: soil.Sandy}) {
		t.Fatalf("second Start() = true while sampling")
	}
	mu.Unlock()

	c.Advance(10 * time.Second)
	if len(rec.readings) != 1 {
		t.Fatalf("readings=%v want exactly one", rec.readings)
	}
	if rec.readings[0] != 6.5 {
		t.Fatalf("reading=%v want clay 6.5 (parameters captured at start)", rec.readings[0])
	}
}

func TestSequencer_CancelDuringSamplingSuppressesOutputs(t *testing.T) {
	s, c, mu, rec := newTestSequencer(t)

	mu.Lock()
	s.Start(soil.Parameters{Type: soil.Loam})
	mu.Unlock()

	c.Advance(time.Second)

	mu.Lock()
	s.Cancel()
	if s.Phase() != Idle {
		t.Fatalf("phase=%s want idle after cancel", s.Phase())
	}
	mu.Unlock()

	c.Advance(10 * time.Second)
	if len(rec.readings) != 0 {
		t.Fatalf("readings=%v want none after cancel", rec.readings)
	}
	if rec.done != 0 {
		t.Fatalf("done=%d want 0", rec.done)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != StatusAnalyzing {
		t.Fatalf("statuses=%v want only the analyzing status", rec.statuses)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending timers=%d want 0", c.Pending())
	}
}

func TestSequencer_CancelDuringReportingSkipsDone(t *testing.T) {
	s, c, mu, rec := newTestSequencer(t)

	mu.Lock()
	s.Start(soil.Parameters{})
	mu.Unlock()
	c.Advance(2500 * time.Millisecond)

	mu.Lock()
	if s.Phase() != Reporting {
		t.Fatalf("phase=%s want reporting", s.Phase())
	}
	s.Cancel()
	mu.Unlock()

	c.Advance(10 * time.Second)
	if rec.done != 0 {
		t.Fatalf("done=%d want 0", rec.done)
	}
	if last := rec.statuses[len(rec.statuses)-1]; last == StatusReady {
		t.Fatalf("ready status emitted after cancel")
	}
}

// A timer that has already fired but is blocked on the lock while Cancel runs
// must not apply its transition.
func TestSequencer_StaleCallbackIgnored(t *testing.T) {
	c := &captureClock{}
	mu := &sync.Mutex{}
	var readings int
	s := New(Config{
		Clock: c,
		Lock:  mu,
		Hooks: Hooks{Reading: func(float64, soil.Parameters) { readings++ }},
	})

	mu.Lock()
	s.Start(soil.Parameters{})
	s.Cancel()
	s.Start(soil.Parameters{})
	mu.Unlock()

	if len(c.funcs) != 2 {
		t.Fatalf("scheduled=%d want 2", len(c.funcs))
	}
	// Fire the callback from the cancelled cycle.
	c.funcs[0]()
	if readings != 0 {
		t.Fatalf("stale callback produced a reading")
	}
	if s.Phase() != Sampling {
		t.Fatalf("phase=%s want sampling", s.Phase())
	}
	c.funcs[1]()
	if readings != 1 || s.Phase() != Reporting {
		t.Fatalf("readings=%d phase=%s want 1 reporting", readings, s.Phase())
	}
}

type captureClock struct {
	funcs []func()
}

func (c *captureClock) Now() time.Time { return time.Time{} }

func (c *captureClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.funcs = append(c.funcs, f)
	return noopTimer{}
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func TestPhase_TextRoundTrip(t *testing.T) {
	for _, p := range []Phase{Idle, Sampling, Reporting} {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("Marshal(%s) error: %v", p, err)
		}
		var got Phase
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", b, err)
		}
		if got != p {
			t.Fatalf("round trip %s: got %s", p, got)
		}
	}

	if got, err := ParsePhase(" Reporting "); err != nil || got != Reporting {
		t.Fatalf("ParsePhase=%s,%v want reporting", got, err)
	}
	var p Phase
	if err := json.Unmarshal([]byte(`"drilling"`), &p); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}
