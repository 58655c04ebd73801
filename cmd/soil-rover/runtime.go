package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"soil-rover/internal/analysis"
	"soil-rover/internal/clock"
	"soil-rover/internal/config"
	"soil-rover/internal/indicator"
	"soil-rover/internal/publish"
	"soil-rover/internal/sim"
	"soil-rover/internal/store"
	"soil-rover/internal/udp"
	"soil-rover/internal/web"
)

// liveRuntime owns the simulation and every optional subsystem around it.
type liveRuntime struct {
	cfg    config.Config
	rover  *sim.Simulation
	status *web.Status
	hub    *web.Hub
	logs   *web.LogBuffer

	telemetry *udp.Broadcaster
	publisher *publish.Publisher
	db        *store.DB
	led       *indicator.Indicator

	wg sync.WaitGroup
}

// newLiveRuntime builds the simulation and brings up the optional
// subsystems. A subsystem that fails to start is logged and left out; only a
// bad simulation config is fatal.
func newLiveRuntime(cfg config.Config, c clock.Clock, logs *web.LogBuffer) (*liveRuntime, error) {
	sc, err := cfg.SimulationConfig(c)
	if err != nil {
		return nil, err
	}
	rover, err := sim.New(sc)
	if err != nil {
		return nil, err
	}

	r := &liveRuntime{
		cfg:    cfg,
		rover:  rover,
		status: web.NewStatus(),
		hub:    web.NewHub(),
		logs:   logs,
	}
	r.status.SetTickInterval(cfg.Sim.TickInterval)

	if cfg.Telemetry.Enable {
		b, err := udp.NewBroadcaster(cfg.Telemetry.Dest)
		if err != nil {
			log.Printf("telemetry init failed: %v", err)
		} else {
			r.telemetry = b
			log.Printf("telemetry dest=%s interval=%s", b.Dest(), cfg.Telemetry.Interval)
		}
	}

	if cfg.NATS.Enable {
		p := publish.NewPublisher(cfg.NATS.Subject)
		if err := p.Connect(cfg.NATS.URL); err != nil {
			log.Printf("nats init failed: %v", err)
		} else {
			r.publisher = p
		}
	}

	if cfg.Store.Enable {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Printf("store init failed: %v", err)
		} else {
			r.db = db
			log.Printf("store path=%s", cfg.Store.Path)
		}
	}

	if cfg.Indicator.Enable {
		led, err := indicator.Open(cfg.Indicator.Line)
		if err != nil {
			log.Printf("indicator init failed: %v", err)
		} else {
			r.led = led
			log.Printf("indicator line=%s", led.Name())
		}
	}

	rover.OnSample(r.handleSample)
	return r, nil
}

// handleSample fans a completed sample out to the sinks. It runs outside the
// simulation lock.
func (r *liveRuntime) handleSample(s sim.Sample) {
	r.hub.PublishSample(s)
	if r.db != nil {
		if err := r.db.InsertSample(s); err != nil {
			log.Printf("store: %v", err)
		} else {
			r.status.MarkSampleStored()
		}
	}
	if r.publisher.Enabled() {
		if err := r.publisher.PublishSample(s); err != nil {
			log.Printf("nats: %v", err)
		} else {
			r.status.MarkSamplePublished()
		}
	}
}

// start launches the tick driver and the background subsystems. They stop
// when ctx is done; wait blocks until they have.
func (r *liveRuntime) start(ctx context.Context) {
	r.goFn(func() { r.tickLoop(ctx) })
	r.goFn(func() { r.hub.Stream(ctx, r.rover, r.cfg.Web.StreamInterval) })

	if r.telemetry != nil {
		r.goFn(func() {
			r.telemetry.Run(ctx, r.cfg.Telemetry.Interval, r.rover.Snapshot, func() { r.status.AddTelemetrySent(1) })
		})
	}
	if r.led != nil {
		r.goFn(func() {
			r.led.Run(ctx, 250*time.Millisecond, func() analysis.Phase { return r.rover.Snapshot().Phase })
		})
	}
	if r.cfg.Web.Enable {
		r.goFn(func() {
			log.Printf("web listen=%s", r.cfg.Web.Listen)
			if err := web.Serve(ctx, r.cfg.Web.Listen, r.handler()); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		})
	}
}

func (r *liveRuntime) handler() http.Handler {
	var samples web.SampleStore
	if r.db != nil {
		samples = r.db
	}
	return web.Handler(r.rover, r.status, r.hub, r.logs, samples)
}

func (r *liveRuntime) goFn(f func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f()
	}()
}

func (r *liveRuntime) tickLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.Sim.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.rover.Tick()
			r.status.MarkTick(now.UTC())
		}
	}
}

func (r *liveRuntime) wait() { r.wg.Wait() }

func (r *liveRuntime) Close() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.rover.Close()
	if r.telemetry != nil {
		_ = r.telemetry.Close()
	}
	if r.publisher != nil {
		r.publisher.Close()
	}
	if r.led != nil {
		_ = r.led.Close()
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
