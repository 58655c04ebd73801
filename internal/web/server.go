package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"soil-rover/internal/nav"
	"soil-rover/internal/sim"
	"soil-rover/internal/soil"
	"soil-rover/internal/store"
	"soil-rover/internal/waypoint"
)

// Rover is the part of the simulation the HTTP API drives.
// *sim.Simulation implements it.
type Rover interface {
	Snapshot() sim.State
	Waypoints() []waypoint.Point
	Samples() []sim.Sample
	Tick()
	SetSpeed(v float64) error
	SwitchMode(m sim.Mode)
	ManualKey(k nav.Key) bool
	SetSoilParameters(p soil.Parameters)
}

// SampleStore is the persisted sample log. *store.DB implements it.
type SampleStore interface {
	ListSamples(limit int) ([]sim.Sample, error)
	ListSamplesByWaypoint(waypoint int) ([]sim.Sample, error)
	SummarizeWaypoints() ([]store.WaypointSummary, error)
	CountSamples() (int, error)
}

type SamplesResponse struct {
	Source  string       `json:"source"`
	Total   int          `json:"total"`
	Samples []sim.Sample `json:"samples"`
}

type SummaryResponse struct {
	Total     int                     `json:"total"`
	Waypoints []store.WaypointSummary `json:"waypoints"`
}

// CommandRequest is the body of POST /api/command and of client frames on
// /ws. Exactly the field named by Command is used.
type CommandRequest struct {
	Command string           `json:"command"`
	Speed   *float64         `json:"speed,omitempty"`
	Mode    *sim.Mode        `json:"mode,omitempty"`
	Key     *nav.Key         `json:"key,omitempty"`
	Soil    *soil.Parameters `json:"soil,omitempty"`
}

type CommandResponse struct {
	OK bool `json:"ok"`
	// Accepted is false when a manual key was ignored (auto mode or an
	// analysis in progress).
	Accepted bool      `json:"accepted"`
	State    sim.State `json:"state"`
}

type StatusResponse struct {
	Service StatusSnapshot `json:"service"`
	Rover   sim.State      `json:"rover"`
}

var errBadCommand = errors.New("bad command")

func applyCommand(rover Rover, req CommandRequest) (accepted bool, err error) {
	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case "tick":
		rover.Tick()
		return true, nil
	case "speed":
		if req.Speed == nil {
			return false, fmt.Errorf("%w: speed is required", errBadCommand)
		}
		if err := rover.SetSpeed(*req.Speed); err != nil {
			return false, fmt.Errorf("%w: %v", errBadCommand, err)
		}
		return true, nil
	case "mode":
		if req.Mode == nil {
			return false, fmt.Errorf("%w: mode is required", errBadCommand)
		}
		rover.SwitchMode(*req.Mode)
		return true, nil
	case "key":
		if req.Key == nil {
			return false, fmt.Errorf("%w: key is required", errBadCommand)
		}
		return rover.ManualKey(*req.Key), nil
	case "soil":
		if req.Soil == nil {
			return false, fmt.Errorf("%w: soil is required", errBadCommand)
		}
		rover.SetSoilParameters(*req.Soil)
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown command %q", errBadCommand, req.Command)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Handler builds the HTTP API. status, hub, logs and samples may be nil; the
// corresponding endpoints are then omitted, report zero values or answer 404.
func Handler(rover Rover, status *Status, hub *Hub, logs *LogBuffer, samples SampleStore) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			resp := StatusResponse{
				Service: status.Snapshot(time.Now().UTC()),
				Rover:   rover.Snapshot(),
			}
			resp.Service.StreamClients = hub.Clients()
			writeJSON(w, resp)
		})
		r.Get("/waypoints", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, struct {
				Waypoints []waypoint.Point `json:"waypoints"`
			}{Waypoints: rover.Waypoints()})
		})
		r.Route("/samples", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				limit := 0
				if v := q.Get("limit"); v != "" {
					n, err := strconv.Atoi(v)
					if err != nil || n <= 0 {
						http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
						return
					}
					limit = n
				}

				switch q.Get("source") {
				case "", "memory":
					list := rover.Samples()
					total := len(list)
					if limit > 0 && len(list) > limit {
						list = list[len(list)-limit:]
					}
					if list == nil {
						list = []sim.Sample{}
					}
					writeJSON(w, SamplesResponse{Source: "memory", Total: total, Samples: list})
				case "store":
					if samples == nil {
						http.Error(w, "sample store disabled", http.StatusNotFound)
						return
					}
					list, err := samples.ListSamples(limit)
					if err != nil {
						http.Error(w, "store: "+err.Error(), http.StatusInternalServerError)
						return
					}
					total, err := samples.CountSamples()
					if err != nil {
						http.Error(w, "store: "+err.Error(), http.StatusInternalServerError)
						return
					}
					if list == nil {
						list = []sim.Sample{}
					}
					writeJSON(w, SamplesResponse{Source: "store", Total: total, Samples: list})
				default:
					http.Error(w, "source must be 'memory' or 'store'", http.StatusBadRequest)
				}
			})
			r.Get("/waypoint/{index}", func(w http.ResponseWriter, r *http.Request) {
				if samples == nil {
					http.Error(w, "sample store disabled", http.StatusNotFound)
					return
				}
				idx, err := strconv.Atoi(chi.URLParam(r, "index"))
				if err != nil {
					http.Error(w, "waypoint index must be an integer", http.StatusBadRequest)
					return
				}
				list, err := samples.ListSamplesByWaypoint(idx)
				if err != nil {
					http.Error(w, "store: "+err.Error(), http.StatusInternalServerError)
					return
				}
				if list == nil {
					list = []sim.Sample{}
				}
				writeJSON(w, SamplesResponse{Source: "store", Total: len(list), Samples: list})
			})
			r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
				if samples == nil {
					http.Error(w, "sample store disabled", http.StatusNotFound)
					return
				}
				sum, err := samples.SummarizeWaypoints()
				if err != nil {
					http.Error(w, "store: "+err.Error(), http.StatusInternalServerError)
					return
				}
				total, err := samples.CountSamples()
				if err != nil {
					http.Error(w, "store: "+err.Error(), http.StatusInternalServerError)
					return
				}
				if sum == nil {
					sum = []store.WaypointSummary{}
				}
				writeJSON(w, SummaryResponse{Total: total, Waypoints: sum})
			})
		})
		r.Post("/command", func(w http.ResponseWriter, r *http.Request) {
			var req CommandRequest
			dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
				return
			}
			accepted, err := applyCommand(rover, req)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, CommandResponse{OK: true, Accepted: accepted, State: rover.Snapshot()})
		})
		if logs != nil {
			r.Handle("/logs", logs.Handler())
		}
	})

	if hub != nil {
		r.Get("/ws", hub.HandleWS(rover))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		st := rover.Snapshot()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Soil Rover</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>Soil Rover</h1>")
		_, _ = fmt.Fprintf(w, "<p>State: <a href=\"/api/status\">/api/status</a>, stream: <code>/ws</code>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>mode=%s\nphase=%s\nstatus=%s\nx=%.1f y=%.1f heading=%.3f\ntarget=%d</pre>",
			st.Mode, st.Phase, st.Status, st.Pose.X, st.Pose.Y, st.Pose.Heading, st.TargetIndex,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return r
}

func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
