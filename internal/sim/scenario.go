package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"soil-rover/internal/nav"
	"soil-rover/internal/soil"
)

// ScenarioScript is a deterministic, tick-indexed list of operator commands.
// It drives a Simulation headless, which makes whole missions reproducible in
// tests and from the command line.
//
// YAML schema (v1):
//
//	version: 1
//	ticks: 3000
//	tick_interval: 16ms
//	commands:
//	  - at_tick: 0
//	    soil: {type: loam, moisture: medium, fertilizer: 0}
//	  - at_tick: 0
//	    mode: auto
//	  - at_tick: 400
//	    speed: 8
//	  - at_tick: 900
//	    mode: manual
//	  - at_tick: 901
//	    key: forward
//
// Each command carries exactly one action. Commands must be sorted by at_tick
// and are applied before the tick with the same index.
type ScenarioScript struct {
	Version      int               `yaml:"version"`
	Ticks        int               `yaml:"ticks"`
	TickInterval time.Duration     `yaml:"tick_interval"`
	Commands     []ScenarioCommand `yaml:"commands"`
}

// ScenarioCommand is one operator action at a tick.
type ScenarioCommand struct {
	AtTick int              `yaml:"at_tick"`
	Mode   *Mode            `yaml:"mode,omitempty"`
	Speed  *float64         `yaml:"speed,omitempty"`
	Key    *nav.Key         `yaml:"key,omitempty"`
	Soil   *soil.Parameters `yaml:"soil,omitempty"`
}

func (c ScenarioCommand) actions() int {
	n := 0
	if c.Mode != nil {
		n++
	}
	if c.Speed != nil {
		n++
	}
	if c.Key != nil {
		n++
	}
	if c.Soil != nil {
		n++
	}
	return n
}

// Scenario is a validated script.
type Scenario struct {
	script ScenarioScript
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script. Unknown keys are
// rejected so a misspelled action cannot silently turn into a no-op.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runnable Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if script.Ticks <= 0 {
		return nil, fmt.Errorf("ticks must be > 0")
	}
	if script.TickInterval < 0 {
		return nil, fmt.Errorf("tick_interval must be >= 0")
	}
	if script.TickInterval == 0 {
		script.TickInterval = 16 * time.Millisecond
	}
	for i, c := range script.Commands {
		if c.AtTick < 0 || c.AtTick >= script.Ticks {
			return nil, fmt.Errorf("commands[%d].at_tick must be in [0,%d)", i, script.Ticks)
		}
		if i > 0 && c.AtTick < script.Commands[i-1].AtTick {
			return nil, fmt.Errorf("commands must be sorted by at_tick (index %d)", i)
		}
		if n := c.actions(); n != 1 {
			return nil, fmt.Errorf("commands[%d] must have exactly one action, got %d", i, n)
		}
	}
	return &Scenario{script: script}, nil
}

// Duration returns the simulated time covered by the script.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(s.script.Ticks) * s.script.TickInterval
}

// Run replays the script against sim. advance moves the clock the simulation
// was built with by one tick interval; observe, if non-nil, is called after
// every tick.
func (s *Scenario) Run(sim *Simulation, advance func(time.Duration), observe func(tick int, st State)) (State, error) {
	if s == nil || sim == nil {
		return State{}, fmt.Errorf("scenario: nil scenario or simulation")
	}
	cmds := s.script.Commands
	next := 0
	for tick := 0; tick < s.script.Ticks; tick++ {
		for next < len(cmds) && cmds[next].AtTick == tick {
			if err := apply(sim, cmds[next]); err != nil {
				return sim.Snapshot(), fmt.Errorf("commands[%d]: %w", next, err)
			}
			next++
		}
		sim.Tick()
		if advance != nil {
			advance(s.script.TickInterval)
		}
		if observe != nil {
			observe(tick, sim.Snapshot())
		}
	}
	return sim.Snapshot(), nil
}

func apply(sim *Simulation, c ScenarioCommand) error {
	switch {
	case c.Mode != nil:
		sim.SwitchMode(*c.Mode)
	case c.Speed != nil:
		return sim.SetSpeed(*c.Speed)
	case c.Key != nil:
		sim.ManualKey(*c.Key)
	case c.Soil != nil:
		sim.SetSoilParameters(*c.Soil)
	}
	return nil
}
