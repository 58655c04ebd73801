package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soil-rover/internal/analysis"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	err    error
	closed bool
}

func (f *fakeLine) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLine) snapshot() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.values...)
}

func withFakeLine(t *testing.T, fl *fakeLine) {
	t.Helper()
	old := openLineFn
	openLineFn = func(name string) (line, error) { return fl, nil }
	t.Cleanup(func() { openLineFn = old })
}

func TestLineName(t *testing.T) {
	cases := map[string]string{
		"17":      "GPIO17",
		" 4 ":     "GPIO4",
		"GPIO27":  "GPIO27",
		"LED_ACT": "LED_ACT",
		"":        "",
	}
	for in, want := range cases {
		if got := LineName(in); got != want {
			t.Fatalf("LineName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestOpen_EmptyName(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty line name")
	}
}

func TestUpdate_PhasePattern(t *testing.T) {
	fl := &fakeLine{}
	withFakeLine(t, fl)
	ind, err := Open("17")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if ind.Name() != "GPIO17" {
		t.Fatalf("name=%q", ind.Name())
	}

	seq := []analysis.Phase{
		analysis.Idle,      // already low: no write
		analysis.Sampling,  // on
		analysis.Sampling,  // unchanged
		analysis.Reporting, // stays on (first reporting poll)
		analysis.Reporting, // off
		analysis.Reporting, // on
		analysis.Idle,      // off
	}
	for _, p := range seq {
		if err := ind.Update(p); err != nil {
			t.Fatalf("Update(%s) error: %v", p, err)
		}
	}
	got := fl.snapshot()
	want := []int{1, 0, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("writes=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("writes=%v want %v", got, want)
		}
	}

	if err := ind.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fl.closed {
		t.Fatalf("line not closed")
	}
	if err := ind.Update(analysis.Sampling); err != nil {
		t.Fatalf("Update after Close error: %v", err)
	}
}

func TestUpdate_ErrorKeepsLevel(t *testing.T) {
	boom := errors.New("boom")
	fl := &fakeLine{err: boom}
	withFakeLine(t, fl)
	ind, err := Open("GPIO5")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := ind.Update(analysis.Sampling); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	fl.mu.Lock()
	fl.err = nil
	fl.mu.Unlock()
	if err := ind.Update(analysis.Sampling); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if got := fl.snapshot(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("writes=%v want [1]", got)
	}
}

func TestRun_TurnsOffOnCancel(t *testing.T) {
	fl := &fakeLine{}
	withFakeLine(t, fl)
	ind, err := Open("GPIO17")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ind.Run(ctx, time.Millisecond, func() analysis.Phase { return analysis.Sampling })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(fl.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	got := fl.snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Fatalf("writes=%v want [1 0]", got)
	}
}
