package sim

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"soil-rover/internal/analysis"
	"soil-rover/internal/clock"
	"soil-rover/internal/nav"
	"soil-rover/internal/soil"
	"soil-rover/internal/waypoint"
)

// Mode selects who drives the rover.
type Mode int

const (
	Auto Mode = iota
	Manual
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "automatic":
		return Auto, nil
	case "manual":
		return Manual, nil
	default:
		return Auto, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

const (
	StatusManualMode = "Manual mode"
	StatusAutoMode   = "Auto mode"

	DefaultSpeed       = 5.0
	DefaultMinSpeed    = 1.0
	DefaultMaxSpeed    = 10.0
	DefaultRoverWidth  = 120.0
	DefaultRoverHeight = 180.0
	DefaultHistorySize = 100
)

// Rover holds the physical parameters of the vehicle. Width and Height are
// only used by displays.
type Rover struct {
	Speed    float64
	MinSpeed float64
	MaxSpeed float64
	Width    float64
	Height   float64
}

type Config struct {
	Grid  waypoint.Grid
	Start nav.Pose
	Rover Rover
	Nav   nav.Params

	SamplingDelay  time.Duration
	ReportingDelay time.Duration

	Soil        soil.Parameters
	Mode        Mode
	HistorySize int

	Clock clock.Clock
}

// Reading is the most recent completed pH measurement.
type Reading struct {
	PH   float64 `json:"ph"`
	Text string  `json:"text"`
}

// Sample is one entry of the sample log.
type Sample struct {
	ID string `json:"id"`
	// Waypoint is the tour index the sample was taken at, or -1 for samples
	// triggered manually.
	Waypoint int             `json:"waypoint"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	PH       float64         `json:"ph"`
	Soil     soil.Parameters `json:"soil"`
	Mode     Mode            `json:"mode"`
	TakenAt  time.Time       `json:"taken_at"`
}

// State is a point-in-time copy of everything a display needs.
type State struct {
	Pose        nav.Pose        `json:"pose"`
	Speed       float64         `json:"speed"`
	Width       float64         `json:"width"`
	Height      float64         `json:"height"`
	Mode        Mode            `json:"mode"`
	Moving      bool            `json:"moving"`
	Phase       analysis.Phase  `json:"phase"`
	TargetIndex int             `json:"target_index"`
	Status      string          `json:"status"`
	LastReading *Reading        `json:"last_reading,omitempty"`
	Soil        soil.Parameters `json:"soil"`
	Ticks       uint64          `json:"ticks"`
}

// Simulation is the rover core: it composes navigation, the analysis sequence
// and the waypoint tour behind one lock. Commands, Tick and the analysis timer
// callbacks are serialized, so timers never race the tick driver.
//
// Safe for concurrent use.
type Simulation struct {
	cfg       Config
	waypoints []waypoint.Point

	mu  sync.Mutex
	seq *analysis.Sequencer

	pose        nav.Pose
	speed       float64
	mode        Mode
	moving      bool
	targetIndex int
	status      string
	soil        soil.Parameters
	ticks       uint64

	history []Sample
	// outbox holds samples produced under the lock; they are delivered to
	// observers after it is released.
	outbox    []Sample
	observers []func(Sample)
}

// simLocker is handed to the sequencer so that timer callbacks share the
// simulation lock and flush observer deliveries on unlock.
type simLocker struct{ s *Simulation }

func (l simLocker) Lock()   { l.s.mu.Lock() }
func (l simLocker) Unlock() { l.s.unlock() }

// New builds a simulation. It fails if the waypoint grid is degenerate.
func New(cfg Config) (*Simulation, error) {
	wps, err := waypoint.Generate(cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Nav == (nav.Params{}) {
		cfg.Nav = nav.DefaultParams()
	}
	if cfg.Rover.MinSpeed <= 0 {
		cfg.Rover.MinSpeed = DefaultMinSpeed
	}
	if cfg.Rover.MaxSpeed <= 0 {
		cfg.Rover.MaxSpeed = DefaultMaxSpeed
	}
	if cfg.Rover.MinSpeed > cfg.Rover.MaxSpeed {
		return nil, fmt.Errorf("sim: min speed %g exceeds max speed %g", cfg.Rover.MinSpeed, cfg.Rover.MaxSpeed)
	}
	if cfg.Rover.Speed <= 0 {
		cfg.Rover.Speed = DefaultSpeed
	}
	if cfg.Rover.Width <= 0 {
		cfg.Rover.Width = DefaultRoverWidth
	}
	if cfg.Rover.Height <= 0 {
		cfg.Rover.Height = DefaultRoverHeight
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	s := &Simulation{
		cfg:       cfg,
		waypoints: wps,
		pose:      cfg.Start,
		speed:     clamp(cfg.Rover.Speed, cfg.Rover.MinSpeed, cfg.Rover.MaxSpeed),
		mode:      cfg.Mode,
		moving:    cfg.Mode == Auto,
		status:    analysis.StatusReady,
		soil:      cfg.Soil,
	}
	s.pose.Heading = nav.NormalizeAngle(s.pose.Heading)
	s.seq = analysis.New(analysis.Config{
		Clock:          cfg.Clock,
		SamplingDelay:  cfg.SamplingDelay,
		ReportingDelay: cfg.ReportingDelay,
		Lock:           simLocker{s},
		Hooks: analysis.Hooks{
			Status:  s.onStatus,
			Reading: s.onReading,
			Done:    s.onAnalysisDone,
		},
	})
	return s, nil
}

func (s *Simulation) lock() { s.mu.Lock() }

func (s *Simulation) unlock() {
	out := s.outbox
	s.outbox = nil
	var obs []func(Sample)
	if len(out) > 0 {
		obs = append(obs, s.observers...)
	}
	s.mu.Unlock()

	for _, smp := range out {
		for _, f := range obs {
			f(smp)
		}
	}
}

// OnSample registers f to be called for every completed sample. Callbacks run
// outside the simulation lock and may call back into the simulation.
func (s *Simulation) OnSample(f func(Sample)) {
	if f == nil {
		return
	}
	s.lock()
	defer s.unlock()
	s.observers = append(s.observers, f)
}

// Tick advances the simulation by one frame. In Auto mode the rover steers
// toward the current waypoint and starts an analysis on arrival; motion is
// suspended while an analysis runs. Manual mode ignores ticks.
func (s *Simulation) Tick() {
	s.lock()
	defer s.unlock()

	s.ticks++
	if s.mode != Auto || !s.moving || s.seq.Active() {
		return
	}

	target := s.waypoints[s.targetIndex]
	pose, arrived := nav.Step(s.pose, target, s.speed, s.cfg.Nav)
	s.pose = pose
	if arrived {
		s.seq.Start(s.soil)
	}
}

// SetSpeed changes the travel speed, clamped to the configured range.
func (s *Simulation) SetSpeed(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("speed must be a finite number")
	}
	s.lock()
	defer s.unlock()
	s.speed = clamp(v, s.cfg.Rover.MinSpeed, s.cfg.Rover.MaxSpeed)
	return nil
}

// SetSoilParameters sets the conditions used by the next analysis. A running
// analysis keeps the parameters it started with.
func (s *Simulation) SetSoilParameters(p soil.Parameters) {
	s.lock()
	defer s.unlock()
	s.soil = p
}

// SwitchMode cancels any analysis in progress. Entering Auto restarts the
// tour: the rover is placed on the first waypoint and motion resumes.
func (s *Simulation) SwitchMode(m Mode) {
	s.lock()
	defer s.unlock()

	s.seq.Cancel()
	switch m {
	case Manual:
		s.mode = Manual
		s.moving = false
		s.status = StatusManualMode
	default:
		s.mode = Auto
		s.moving = true
		s.targetIndex = 0
		s.pose.X = s.waypoints[0].X
		s.pose.Y = s.waypoints[0].Y
		s.status = StatusAutoMode
	}
	log.Printf("rover mode=%s", s.mode)
}

// ManualKey applies a drive command in Manual mode. It reports whether the key
// was accepted: keys are ignored in Auto mode and while an analysis runs.
func (s *Simulation) ManualKey(k nav.Key) bool {
	s.lock()
	defer s.unlock()

	if s.mode != Manual || s.seq.Active() {
		return false
	}
	if k == nav.Trigger {
		return s.seq.Start(s.soil)
	}
	s.pose = nav.ApplyKey(s.pose, k, s.speed, s.cfg.Nav)
	return k != nav.KeyNone
}

// Snapshot returns a copy of the current state.
func (s *Simulation) Snapshot() State {
	s.lock()
	defer s.unlock()

	st := State{
		Pose:        s.pose,
		Speed:       s.speed,
		Width:       s.cfg.Rover.Width,
		Height:      s.cfg.Rover.Height,
		Mode:        s.mode,
		Moving:      s.moving,
		Phase:       s.seq.Phase(),
		TargetIndex: s.targetIndex,
		Status:      s.status,
		Soil:        s.soil,
		Ticks:       s.ticks,
	}
	if ph, ok := s.seq.LastPH(); ok {
		st.LastReading = &Reading{PH: ph, Text: soil.FormatReading(ph)}
	}
	return st
}

// Waypoints returns a copy of the tour.
func (s *Simulation) Waypoints() []waypoint.Point {
	return append([]waypoint.Point(nil), s.waypoints...)
}

// Samples returns the sample log, oldest first.
func (s *Simulation) Samples() []Sample {
	s.lock()
	defer s.unlock()
	return append([]Sample(nil), s.history...)
}

// Close stops any pending analysis timer.
func (s *Simulation) Close() {
	s.lock()
	defer s.unlock()
	s.seq.Cancel()
}

func (s *Simulation) onStatus(text string) {
	s.status = text
}

func (s *Simulation) onReading(ph float64, params soil.Parameters) {
	idx := -1
	if s.mode == Auto {
		idx = s.targetIndex
	}
	smp := Sample{
		ID:       uuid.NewString(),
		Waypoint: idx,
		X:        s.pose.X,
		Y:        s.pose.Y,
		PH:       ph,
		Soil:     params,
		Mode:     s.mode,
		TakenAt:  s.cfg.Clock.Now().UTC(),
	}
	s.history = append(s.history, smp)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]Sample(nil), s.history[over:]...)
	}
	s.outbox = append(s.outbox, smp)
	log.Printf("sample waypoint=%d x=%.1f y=%.1f %s (%s)", idx, smp.X, smp.Y, soil.FormatReading(ph), params)
}

func (s *Simulation) onAnalysisDone() {
	if s.mode == Auto {
		s.targetIndex = (s.targetIndex + 1) % len(s.waypoints)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
