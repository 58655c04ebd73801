package main

import (
	"fmt"
	"io"
	"time"

	"soil-rover/internal/clock"
	"soil-rover/internal/config"
	"soil-rover/internal/sim"
)

// runScript replays a scenario against a simulation on a virtual clock, so a
// whole mission runs as fast as the CPU allows. Samples are printed as they
// complete, followed by a summary.
func runScript(cfg config.Config, scriptPath string, out io.Writer) (sim.State, []sim.Sample, error) {
	script, err := sim.LoadScenarioScript(scriptPath)
	if err != nil {
		return sim.State{}, nil, fmt.Errorf("scenario load: %w", err)
	}
	if script.TickInterval == 0 {
		script.TickInterval = cfg.Sim.TickInterval
	}
	scn, err := sim.NewScenario(script)
	if err != nil {
		return sim.State{}, nil, fmt.Errorf("scenario: %w", err)
	}

	vc := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sc, err := cfg.SimulationConfig(vc)
	if err != nil {
		return sim.State{}, nil, err
	}
	// The whole run's samples are reported, not just the in-memory window.
	sc.HistorySize = script.Ticks
	rover, err := sim.New(sc)
	if err != nil {
		return sim.State{}, nil, err
	}
	defer rover.Close()

	var samples []sim.Sample
	rover.OnSample(func(s sim.Sample) {
		samples = append(samples, s)
		fmt.Fprintf(out, "sample waypoint=%d x=%.1f y=%.1f ph=%.2f soil=%s\n", s.Waypoint, s.X, s.Y, s.PH, s.Soil)
	})

	final, err := scn.Run(rover, vc.Advance, nil)
	if err != nil {
		return final, samples, err
	}

	sum := summarizeSamples(samples)
	fmt.Fprintf(out, "simulated=%s ticks=%d mode=%s target=%d status=%q\n", scn.Duration(), final.Ticks, final.Mode, final.TargetIndex, final.Status)
	fmt.Fprint(out, sum.String())
	return final, samples, nil
}
