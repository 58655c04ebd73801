package sim

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"soil-rover/internal/analysis"
	"soil-rover/internal/clock"
	"soil-rover/internal/nav"
	"soil-rover/internal/soil"
	"soil-rover/internal/waypoint"
)

func testConfig(c clock.Clock) Config {
	return Config{
		Grid:  waypoint.Grid{Width: 1400, Height: 900, Margin: 200, Rows: 5, Cols: 5},
		Start: nav.Pose{X: 50, Y: 50},
		Rover: Rover{Speed: 5},
		Soil:  soil.Parameters{Type: soil.Loam, Moisture: soil.Medium},
		Clock: c,
	}
}

func newTestSim(t *testing.T, mutate func(*Config)) (*Simulation, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	cfg := testConfig(c)
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(s.Close)
	return s, c
}

func tickUntil(t *testing.T, s *Simulation, max int, cond func(State) bool) State {
	t.Helper()
	for i := 0; i < max; i++ {
		s.Tick()
		if st := s.Snapshot(); cond(st) {
			return st
		}
	}
	t.Fatalf("condition not met after %d ticks; state=%+v", max, s.Snapshot())
	return State{}
}

func TestNew_RejectsDegenerateGrid(t *testing.T) {
	cfg := testConfig(clock.NewManual(time.Unix(0, 0)))
	cfg.Grid.Rows = 1
	_, err := New(cfg)
	if !errors.Is(err, waypoint.ErrDegenerateGrid) {
		t.Fatalf("New() error=%v want ErrDegenerateGrid", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	s, _ := newTestSim(t, func(c *Config) { c.Rover = Rover{} })
	st := s.Snapshot()
	if st.Speed != DefaultSpeed || st.Width != DefaultRoverWidth || st.Height != DefaultRoverHeight {
		t.Fatalf("rover defaults: %+v", st)
	}
	if st.Mode != Auto || !st.Moving || st.Phase != analysis.Idle || st.TargetIndex != 0 {
		t.Fatalf("initial state: %+v", st)
	}
	if st.Status != analysis.StatusReady {
		t.Fatalf("status=%q", st.Status)
	}
	if len(s.Waypoints()) != 25 {
		t.Fatalf("waypoints=%d want 25", len(s.Waypoints()))
	}
}

// Five by five tour, rover already on waypoint 0, loam/medium/no fertilizer.
func TestEndToEnd_FirstWaypointCycle(t *testing.T) {
	s, c := newTestSim(t, nil)
	s.SwitchMode(Auto)

	wp0 := s.Waypoints()[0]
	st := s.Snapshot()
	if st.Pose.X != wp0.X || st.Pose.Y != wp0.Y {
		t.Fatalf("pose=%+v want on waypoint 0 %+v", st.Pose, wp0)
	}

	s.Tick()
	st = s.Snapshot()
	if st.Phase != analysis.Sampling {
		t.Fatalf("phase=%s want sampling", st.Phase)
	}
	if st.Status != analysis.StatusAnalyzing {
		t.Fatalf("status=%q want %q", st.Status, analysis.StatusAnalyzing)
	}
	frozen := st.Pose

	// Ticks during the analysis must not move the rover.
	for i := 0; i < 50; i++ {
		s.Tick()
	}
	if got := s.Snapshot().Pose; got != frozen {
		t.Fatalf("pose moved during analysis: %+v -> %+v", frozen, got)
	}

	c.Advance(2000 * time.Millisecond)
	st = s.Snapshot()
	if st.Phase != analysis.Reporting {
		t.Fatalf("phase=%s want reporting", st.Phase)
	}
	if st.Status != "pH: 7.00" {
		t.Fatalf("status=%q want %q", st.Status, "pH: 7.00")
	}
	if st.LastReading == nil || st.LastReading.PH != 7.0 || st.LastReading.Text != "pH: 7.00" {
		t.Fatalf("last reading=%+v", st.LastReading)
	}
	if st.TargetIndex != 0 {
		t.Fatalf("cursor advanced before reporting finished: %d", st.TargetIndex)
	}

	c.Advance(2000 * time.Millisecond)
	st = s.Snapshot()
	if st.Phase != analysis.Idle {
		t.Fatalf("phase=%s want idle", st.Phase)
	}
	if st.TargetIndex != 1 {
		t.Fatalf("target index=%d want 1", st.TargetIndex)
	}
	if st.Status != analysis.StatusReady {
		t.Fatalf("status=%q want %q", st.Status, analysis.StatusReady)
	}

	samples := s.Samples()
	if len(samples) != 1 {
		t.Fatalf("samples=%d want 1", len(samples))
	}
	if samples[0].Waypoint != 0 || samples[0].PH != 7.0 || samples[0].Mode != Auto {
		t.Fatalf("sample=%+v", samples[0])
	}
	if _, err := uuid.Parse(samples[0].ID); err != nil {
		t.Fatalf("sample id %q: %v", samples[0].ID, err)
	}
}

func TestTick_DrivesToFirstWaypointThenSamples(t *testing.T) {
	s, _ := newTestSim(t, nil)
	wp0 := s.Waypoints()[0]

	st := tickUntil(t, s, 5000, func(st State) bool { return st.Phase == analysis.Sampling })
	if d := math.Hypot(st.Pose.X-wp0.X, st.Pose.Y-wp0.Y); d >= 5 {
		t.Fatalf("started sampling %v units away from waypoint", d)
	}
	if st.Pose.Heading <= -math.Pi || st.Pose.Heading > math.Pi {
		t.Fatalf("heading not normalized: %v", st.Pose.Heading)
	}
}

func TestTour_WrapsAroundAfterLastWaypoint(t *testing.T) {
	s, c := newTestSim(t, func(cfg *Config) {
		cfg.Grid = waypoint.Grid{Width: 100, Height: 100, Margin: 10, Rows: 2, Cols: 2}
		cfg.Start = nav.Pose{X: 10, Y: 10}
	})

	visited := []int{}
	for len(visited) < 5 {
		st := tickUntil(t, s, 20000, func(st State) bool { return st.Phase == analysis.Sampling })
		visited = append(visited, st.TargetIndex)
		c.Advance(4 * time.Second)
	}
	want := []int{0, 1, 2, 3, 0}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited=%v want %v", visited, want)
		}
	}
}

func TestSwitchMode_ManualDuringSamplingCancels(t *testing.T) {
	s, c := newTestSim(t, nil)
	s.SwitchMode(Auto)
	s.Tick()
	if s.Snapshot().Phase != analysis.Sampling {
		t.Fatalf("expected sampling")
	}

	c.Advance(time.Second)
	s.SwitchMode(Manual)
	st := s.Snapshot()
	if st.Phase != analysis.Idle || st.Moving || st.Mode != Manual {
		t.Fatalf("after manual switch: %+v", st)
	}
	if st.Status != StatusManualMode {
		t.Fatalf("status=%q", st.Status)
	}

	c.Advance(10 * time.Second)
	st = s.Snapshot()
	if st.LastReading != nil {
		t.Fatalf("reading emitted from a cancelled cycle: %+v", st.LastReading)
	}
	if st.Status != StatusManualMode {
		t.Fatalf("status changed after cancel: %q", st.Status)
	}
	if len(s.Samples()) != 0 {
		t.Fatalf("samples recorded from a cancelled cycle")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending timers=%d", c.Pending())
	}
}

func TestSwitchMode_AutoResetsTour(t *testing.T) {
	s, c := newTestSim(t, nil)
	s.SwitchMode(Auto)
	s.Tick()
	c.Advance(4 * time.Second)
	if got := s.Snapshot().TargetIndex; got != 1 {
		t.Fatalf("target index=%d want 1", got)
	}

	s.SwitchMode(Manual)
	s.ManualKey(nav.Forward)
	s.ManualKey(nav.RotateRight)

	s.SwitchMode(Auto)
	st := s.Snapshot()
	wp0 := s.Waypoints()[0]
	if st.TargetIndex != 0 || st.Pose.X != wp0.X || st.Pose.Y != wp0.Y {
		t.Fatalf("auto reset: %+v", st)
	}
	if !st.Moving || st.Status != StatusAutoMode {
		t.Fatalf("auto state: %+v", st)
	}
}

func TestManualKey_IgnoredInAutoMode(t *testing.T) {
	s, _ := newTestSim(t, nil)
	before := s.Snapshot().Pose
	if s.ManualKey(nav.Forward) {
		t.Fatalf("key accepted in auto mode")
	}
	if got := s.Snapshot().Pose; got != before {
		t.Fatalf("pose changed: %+v", got)
	}
}

func TestManual_DriveAndTriggerAnalysis(t *testing.T) {
	s, c := newTestSim(t, func(cfg *Config) { cfg.Mode = Manual })

	// Ticks do nothing in manual mode.
	before := s.Snapshot().Pose
	for i := 0; i < 10; i++ {
		s.Tick()
	}
	if got := s.Snapshot().Pose; got != before {
		t.Fatalf("tick moved rover in manual mode")
	}

	if !s.ManualKey(nav.Forward) {
		t.Fatalf("forward rejected")
	}
	st := s.Snapshot()
	if math.Abs(st.Pose.X-55) > 1e-9 || math.Abs(st.Pose.Y-50) > 1e-9 {
		t.Fatalf("pose=%+v want (55,50)", st.Pose)
	}

	if !s.ManualKey(nav.Trigger) {
		t.Fatalf("trigger rejected")
	}
	if s.Snapshot().Phase != analysis.Sampling {
		t.Fatalf("phase=%s want sampling", s.Snapshot().Phase)
	}
	// Drive keys and a second trigger are ignored while analysing.
	if s.ManualKey(nav.Forward) || s.ManualKey(nav.Trigger) {
		t.Fatalf("key accepted during analysis")
	}

	s.SetSoilParameters(soil.Parameters{Type: soil.Clay, Moisture: soil.Medium})
	c.Advance(4 * time.Second)
	st = s.Snapshot()
	if st.Phase != analysis.Idle {
		t.Fatalf("phase=%s want idle", st.Phase)
	}
	if st.TargetIndex != 0 {
		t.Fatalf("manual analysis advanced the cursor to %d", st.TargetIndex)
	}
	// Parameters are captured at analysis start.
	if st.LastReading == nil || st.LastReading.PH != 7.0 {
		t.Fatalf("last reading=%+v want loam 7.0", st.LastReading)
	}
	samples := s.Samples()
	if len(samples) != 1 || samples[0].Waypoint != -1 || samples[0].Mode != Manual {
		t.Fatalf("samples=%+v", samples)
	}
}

func TestSetSpeed_ClampsAndRejectsNonFinite(t *testing.T) {
	s, _ := newTestSim(t, nil)

	if err := s.SetSpeed(math.NaN()); err == nil {
		t.Fatalf("expected error for NaN")
	}
	if err := s.SetSpeed(math.Inf(1)); err == nil {
		t.Fatalf("expected error for Inf")
	}
	cases := map[float64]float64{8: 8, 0: DefaultMinSpeed, -3: DefaultMinSpeed, 500: DefaultMaxSpeed}
	for in, want := range cases {
		if err := s.SetSpeed(in); err != nil {
			t.Fatalf("SetSpeed(%v) error: %v", in, err)
		}
		if got := s.Snapshot().Speed; got != want {
			t.Fatalf("SetSpeed(%v) speed=%v want %v", in, got, want)
		}
	}
}

func TestOnSample_DeliveredOutsideLock(t *testing.T) {
	s, c := newTestSim(t, nil)

	got := make(chan Sample, 1)
	s.OnSample(func(smp Sample) {
		// Re-entering the simulation would deadlock if called under the lock.
		_ = s.Snapshot()
		got <- smp
	})

	s.SwitchMode(Auto)
	s.Tick()
	c.Advance(2 * time.Second)

	select {
	case smp := <-got:
		if smp.PH != 7.0 || smp.Soil.Type != soil.Loam {
			t.Fatalf("sample=%+v", smp)
		}
	default:
		t.Fatalf("observer not called")
	}
}

func TestSamples_HistoryIsBounded(t *testing.T) {
	s, c := newTestSim(t, func(cfg *Config) {
		cfg.Mode = Manual
		cfg.HistorySize = 3
	})
	for i := 0; i < 5; i++ {
		s.SetSoilParameters(soil.Parameters{FertilizerAmount: float64(i)})
		if !s.ManualKey(nav.Trigger) {
			t.Fatalf("trigger %d rejected", i)
		}
		c.Advance(4 * time.Second)
	}
	samples := s.Samples()
	if len(samples) != 3 {
		t.Fatalf("samples=%d want 3", len(samples))
	}
	if samples[0].Soil.FertilizerAmount != 2 || samples[2].Soil.FertilizerAmount != 4 {
		t.Fatalf("kept wrong samples: %+v", samples)
	}
}

func TestState_JSONRoundTrip(t *testing.T) {
	s, c := newTestSim(t, nil)
	s.SwitchMode(Auto)
	s.Tick()
	c.Advance(2000 * time.Millisecond)

	want := s.Snapshot()
	if want.Phase != analysis.Reporting || want.LastReading == nil {
		t.Fatalf("state=%+v want reporting with a reading", want)
	}
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var got State
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal(%s) error: %v", b, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip: got %+v want %+v", got, want)
	}
}
