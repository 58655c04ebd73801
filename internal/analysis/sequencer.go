package analysis

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"soil-rover/internal/clock"
	"soil-rover/internal/soil"
)

// Phase is the step of the in-place sample analysis.
type Phase int

const (
	Idle Phase = iota
	// Sampling: probe is in the ground; the reading is not yet available.
	Sampling
	// Reporting: the reading is on the display before the rover moves on.
	Reporting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Sampling:
		return "sampling"
	case Reporting:
		return "reporting"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ParsePhase accepts the names produced by Phase.String.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return Idle, nil
	case "sampling":
		return Sampling, nil
	case "reporting":
		return Reporting, nil
	default:
		return Idle, fmt.Errorf("unknown analysis phase %q", s)
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

const (
	StatusAnalyzing = "Analyzing..."
	StatusReady     = "Ready to sample"

	DefaultSamplingDelay  = 2000 * time.Millisecond
	DefaultReportingDelay = 2000 * time.Millisecond
)

// Hooks receive the sequencer's outputs. They run with the shared lock held
// and must not call back into the sequencer's owner through a locking path.
type Hooks struct {
	// Status is called with each display text the sequence produces.
	Status func(text string)
	// Reading is called once per cycle when the pH value becomes available.
	Reading func(ph float64, params soil.Parameters)
	// Done is called when Reporting elapses, after the phase is back to Idle.
	Done func()
}

type Config struct {
	Clock          clock.Clock
	SamplingDelay  time.Duration
	ReportingDelay time.Duration
	// Lock guards the state shared with the owner. Timer callbacks acquire it
	// for the duration of each transition. Methods on Sequencer expect the
	// caller to already hold it.
	Lock  sync.Locker
	Hooks Hooks
}

// Sequencer runs the timed Idle → Sampling → Reporting → Idle cycle. At most
// one cycle is active at a time.
//
// Not safe for concurrent use on its own; all access goes through Config.Lock.
type Sequencer struct {
	cfg Config

	phase   Phase
	params  soil.Parameters
	lastPH  float64
	havePH  bool
	pending clock.Timer
	// gen invalidates callbacks of a cancelled cycle that already fired but
	// were waiting on the lock.
	gen uint64
}

func New(cfg Config) *Sequencer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.SamplingDelay <= 0 {
		cfg.SamplingDelay = DefaultSamplingDelay
	}
	if cfg.ReportingDelay <= 0 {
		cfg.ReportingDelay = DefaultReportingDelay
	}
	if cfg.Lock == nil {
		cfg.Lock = &sync.Mutex{}
	}
	return &Sequencer{cfg: cfg}
}

func (s *Sequencer) Phase() Phase { return s.phase }

// Active reports whether a cycle is in progress.
func (s *Sequencer) Active() bool { return s.phase != Idle }

// LastPH returns the reading of the most recent cycle that reached Reporting.
func (s *Sequencer) LastPH() (float64, bool) { return s.lastPH, s.havePH }

// Start begins a cycle for the given soil parameters. It returns false if a
// cycle is already running.
func (s *Sequencer) Start(params soil.Parameters) bool {
	if s.phase != Idle {
		return false
	}
	s.gen++
	s.params = params
	s.phase = Sampling
	s.emitStatus(StatusAnalyzing)
	s.schedule(s.cfg.SamplingDelay, s.gen, s.finishSampling)
	return true
}

// Cancel abandons the current cycle without emitting anything further.
func (s *Sequencer) Cancel() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.gen++
	s.phase = Idle
}

func (s *Sequencer) schedule(d time.Duration, gen uint64, next func()) {
	s.pending = s.cfg.Clock.AfterFunc(d, func() {
		s.cfg.Lock.Lock()
		defer s.cfg.Lock.Unlock()
		if gen != s.gen {
			return
		}
		s.pending = nil
		next()
	})
}

func (s *Sequencer) finishSampling() {
	if s.phase != Sampling {
		return
	}
	ph := soil.EstimatePH(s.params)
	s.lastPH = ph
	s.havePH = true
	s.phase = Reporting
	s.emitStatus(soil.FormatReading(ph))
	if s.cfg.Hooks.Reading != nil {
		s.cfg.Hooks.Reading(ph, s.params)
	}
	s.schedule(s.cfg.ReportingDelay, s.gen, s.finishReporting)
}

func (s *Sequencer) finishReporting() {
	if s.phase != Reporting {
		return
	}
	s.phase = Idle
	if s.cfg.Hooks.Done != nil {
		s.cfg.Hooks.Done()
	}
	s.emitStatus(StatusReady)
}

func (s *Sequencer) emitStatus(text string) {
	if s.cfg.Hooks.Status != nil {
		s.cfg.Hooks.Status(text)
	}
}
