package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"soil-rover/internal/clock"
	"soil-rover/internal/nav"
	"soil-rover/internal/sim"
	"soil-rover/internal/soil"
	"soil-rover/internal/waypoint"
)

type Config struct {
	Field     FieldConfig     `yaml:"field"`
	Rover     RoverConfig     `yaml:"rover"`
	Nav       NavConfig       `yaml:"nav"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Soil      soil.Parameters `yaml:"soil"`
	Sim       SimConfig       `yaml:"sim"`
	Web       WebConfig       `yaml:"web"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Indicator IndicatorConfig `yaml:"indicator"`
}

// FieldConfig describes the field and the sampling grid laid over it.
type FieldConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
	Margin float64 `yaml:"margin"`
	Rows   int     `yaml:"rows"`
	Cols   int     `yaml:"cols"`
}

type RoverConfig struct {
	StartX       *float64 `yaml:"start_x"`
	StartY       *float64 `yaml:"start_y"`
	StartHeading float64  `yaml:"start_heading"`
	Speed        float64  `yaml:"speed"`
	MinSpeed     float64  `yaml:"min_speed"`
	MaxSpeed     float64  `yaml:"max_speed"`
	Width        float64  `yaml:"width"`
	Height       float64  `yaml:"height"`
}

type NavConfig struct {
	TurnRate       float64 `yaml:"turn_rate"`
	AlignTolerance float64 `yaml:"align_tolerance"`
	ArrivalRadius  float64 `yaml:"arrival_radius"`
	ManualTurnStep float64 `yaml:"manual_turn_step"`
}

type AnalysisConfig struct {
	Sampling  time.Duration `yaml:"sampling"`
	Reporting time.Duration `yaml:"reporting"`
	// History bounds the in-memory sample log.
	History int `yaml:"history"`
}

type SimConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Mode         string        `yaml:"mode"`
	// Script, if set, replays a scenario headless instead of running live.
	Script string `yaml:"script"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
	// StreamInterval is the websocket state push period.
	StreamInterval time.Duration `yaml:"stream_interval"`
}

type TelemetryConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type NATSConfig struct {
	Enable  bool   `yaml:"enable"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type StoreConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// IndicatorConfig drives a GPIO line high while a sample is being analysed.
type IndicatorConfig struct {
	Enable bool   `yaml:"enable"`
	Line   string `yaml:"line"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML strictly (unknown keys are errors), then applies defaults
// and validation.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return Config{}, fmt.Errorf("config contains unknown fields: %w", err)
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, as if loaded
// from an empty file.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// Field: the browser simulator ran full-window with a 200px margin.
	if cfg.Field.Width == 0 {
		cfg.Field.Width = 1600
	}
	if cfg.Field.Height == 0 {
		cfg.Field.Height = 1000
	}
	if cfg.Field.Margin == 0 {
		cfg.Field.Margin = 200
	}
	if cfg.Field.Rows == 0 {
		cfg.Field.Rows = 5
	}
	if cfg.Field.Cols == 0 {
		cfg.Field.Cols = 5
	}
	if cfg.Field.Rows < 2 {
		return fmt.Errorf("field.rows must be >= 2")
	}
	if cfg.Field.Cols < 2 {
		return fmt.Errorf("field.cols must be >= 2")
	}
	if cfg.Field.Margin < 0 {
		return fmt.Errorf("field.margin must be >= 0")
	}
	if cfg.Field.Width-2*cfg.Field.Margin <= 0 {
		return fmt.Errorf("field.width must exceed 2*field.margin")
	}
	if cfg.Field.Height-2*cfg.Field.Margin <= 0 {
		return fmt.Errorf("field.height must exceed 2*field.margin")
	}

	if cfg.Rover.StartX == nil {
		v := 50.0
		cfg.Rover.StartX = &v
	}
	if cfg.Rover.StartY == nil {
		v := 50.0
		cfg.Rover.StartY = &v
	}
	if cfg.Rover.Speed == 0 {
		cfg.Rover.Speed = 5
	}
	if cfg.Rover.MinSpeed == 0 {
		cfg.Rover.MinSpeed = 1
	}
	if cfg.Rover.MaxSpeed == 0 {
		cfg.Rover.MaxSpeed = 10
	}
	if cfg.Rover.Width == 0 {
		cfg.Rover.Width = 120
	}
	if cfg.Rover.Height == 0 {
		cfg.Rover.Height = 180
	}
	if cfg.Rover.MinSpeed <= 0 {
		return fmt.Errorf("rover.min_speed must be > 0")
	}
	if math.IsInf(cfg.Rover.MaxSpeed, 0) || math.IsNaN(cfg.Rover.MaxSpeed) {
		return fmt.Errorf("rover.max_speed must be finite")
	}
	if cfg.Rover.MaxSpeed < cfg.Rover.MinSpeed {
		return fmt.Errorf("rover.max_speed must be >= rover.min_speed")
	}
	if cfg.Rover.Speed < cfg.Rover.MinSpeed || cfg.Rover.Speed > cfg.Rover.MaxSpeed {
		return fmt.Errorf("rover.speed must be within [rover.min_speed, rover.max_speed]")
	}

	if cfg.Nav.TurnRate == 0 {
		cfg.Nav.TurnRate = 0.05
	}
	if cfg.Nav.AlignTolerance == 0 {
		cfg.Nav.AlignTolerance = 0.1
	}
	if cfg.Nav.ArrivalRadius == 0 {
		cfg.Nav.ArrivalRadius = 5
	}
	if cfg.Nav.ManualTurnStep == 0 {
		cfg.Nav.ManualTurnStep = 0.1
	}
	if cfg.Nav.TurnRate < 0 || cfg.Nav.AlignTolerance < 0 || cfg.Nav.ArrivalRadius < 0 || cfg.Nav.ManualTurnStep < 0 {
		return fmt.Errorf("nav.turn_rate, nav.align_tolerance, nav.arrival_radius and nav.manual_turn_step must be > 0")
	}

	if cfg.Analysis.Sampling == 0 {
		cfg.Analysis.Sampling = 2 * time.Second
	}
	if cfg.Analysis.Reporting == 0 {
		cfg.Analysis.Reporting = 2 * time.Second
	}
	if cfg.Analysis.Sampling < 0 || cfg.Analysis.Reporting < 0 {
		return fmt.Errorf("analysis.sampling and analysis.reporting must be > 0")
	}
	if cfg.Analysis.History <= 0 {
		cfg.Analysis.History = 100
	}

	if cfg.Sim.TickInterval <= 0 {
		cfg.Sim.TickInterval = 16 * time.Millisecond
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Sim.Mode))
	switch mode {
	case "":
		cfg.Sim.Mode = "auto"
	case "auto", "manual":
		cfg.Sim.Mode = mode
	default:
		return fmt.Errorf("sim.mode must be 'auto' or 'manual'")
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.StreamInterval <= 0 {
		cfg.Web.StreamInterval = 100 * time.Millisecond
	}

	if cfg.Telemetry.Enable {
		if strings.TrimSpace(cfg.Telemetry.Dest) == "" {
			return fmt.Errorf("telemetry.dest is required when telemetry.enable is true")
		}
		if _, _, err := net.SplitHostPort(cfg.Telemetry.Dest); err != nil {
			return fmt.Errorf("telemetry.dest must be host:port")
		}
	}
	if cfg.Telemetry.Interval <= 0 {
		cfg.Telemetry.Interval = 200 * time.Millisecond
	}

	if cfg.NATS.Enable && strings.TrimSpace(cfg.NATS.URL) == "" {
		return fmt.Errorf("nats.url is required when nats.enable is true")
	}
	if strings.TrimSpace(cfg.NATS.Subject) == "" {
		cfg.NATS.Subject = "rover.samples"
	}

	if cfg.Store.Enable && strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store.path is required when store.enable is true")
	}

	if strings.TrimSpace(cfg.Indicator.Line) == "" {
		cfg.Indicator.Line = "GPIO17"
	}

	return nil
}

// SimulationConfig maps the loaded configuration onto the simulation core.
// c may be nil, in which case the wall clock is used.
func (cfg Config) SimulationConfig(c clock.Clock) (sim.Config, error) {
	mode, err := sim.ParseMode(cfg.Sim.Mode)
	if err != nil {
		return sim.Config{}, fmt.Errorf("sim.mode: %w", err)
	}
	var start nav.Pose
	if cfg.Rover.StartX != nil {
		start.X = *cfg.Rover.StartX
	}
	if cfg.Rover.StartY != nil {
		start.Y = *cfg.Rover.StartY
	}
	start.Heading = cfg.Rover.StartHeading

	return sim.Config{
		Grid: waypoint.Grid{
			Width:  cfg.Field.Width,
			Height: cfg.Field.Height,
			Margin: cfg.Field.Margin,
			Rows:   cfg.Field.Rows,
			Cols:   cfg.Field.Cols,
		},
		Start: start,
		Rover: sim.Rover{
			Speed:    cfg.Rover.Speed,
			MinSpeed: cfg.Rover.MinSpeed,
			MaxSpeed: cfg.Rover.MaxSpeed,
			Width:    cfg.Rover.Width,
			Height:   cfg.Rover.Height,
		},
		Nav: nav.Params{
			TurnRate:       cfg.Nav.TurnRate,
			AlignTolerance: cfg.Nav.AlignTolerance,
			ArrivalRadius:  cfg.Nav.ArrivalRadius,
			ManualTurnStep: cfg.Nav.ManualTurnStep,
		},
		SamplingDelay:  cfg.Analysis.Sampling,
		ReportingDelay: cfg.Analysis.Reporting,
		Soil:           cfg.Soil,
		Mode:           mode,
		HistorySize:    cfg.Analysis.History,
		Clock:          c,
	}, nil
}
