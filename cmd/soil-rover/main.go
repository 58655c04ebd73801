package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"soil-rover/internal/config"
	"soil-rover/internal/keys"
	"soil-rover/internal/sim"
	"soil-rover/internal/web"
)

func main() {
	var (
		configPath string
		scriptPath string
		useKeys    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults when empty)")
	flag.StringVar(&scriptPath, "script", "", "Replay a scenario script headless and exit")
	flag.BoolVar(&useKeys, "keys", false, "Drive from the terminal (arrows/wasd, space samples, m/o mode, q quits)")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg := config.Default()
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = c
	}
	if scriptPath == "" {
		scriptPath = cfg.Sim.Script
	}

	if scriptPath != "" {
		if _, _, err := runScript(cfg, scriptPath, os.Stdout); err != nil {
			log.Fatalf("scenario failed: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newLiveRuntime(cfg, nil, logs)
	if err != nil {
		log.Fatalf("rover init failed: %v", err)
	}
	defer rt.Close()

	log.Printf("soil-rover starting mode=%s waypoints=%d tick=%s", cfg.Sim.Mode, len(rt.rover.Waypoints()), cfg.Sim.TickInterval)
	rt.start(ctx)

	if useKeys {
		startKeyboard(ctx, cancel, rt.rover)
	}

	<-ctx.Done()
	log.Printf("soil-rover stopping")
	rt.wait()
}

// startKeyboard switches stdin to raw mode and forwards keystrokes to rover.
// The terminal is restored when ctx is done or the reader quits.
func startKeyboard(ctx context.Context, cancel context.CancelFunc, rover *sim.Simulation) {
	fd := int(os.Stdin.Fd())
	if !keys.IsTerminal(fd) {
		log.Printf("keys: stdin is not a terminal; keyboard driving disabled")
		return
	}
	restore, err := keys.MakeRaw(fd)
	if err != nil {
		log.Printf("keys: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = restore()
	}()
	go func() {
		defer cancel()
		if err := keys.Run(ctx, os.Stdin, func(a keys.Action) { applyAction(rover, a) }); err != nil && ctx.Err() == nil {
			log.Printf("keys: %v", err)
		}
	}()
}

func applyAction(rover *sim.Simulation, a keys.Action) {
	switch a.Kind {
	case keys.Drive:
		rover.ManualKey(a.Key)
	case keys.ModeManual:
		rover.SwitchMode(sim.Manual)
	case keys.ModeAuto:
		rover.SwitchMode(sim.Auto)
	case keys.SpeedUp:
		_ = rover.SetSpeed(rover.Snapshot().Speed + 1)
	case keys.SpeedDown:
		_ = rover.SetSpeed(rover.Snapshot().Speed - 1)
	}
}
