package web

import (
	"sync/atomic"
	"time"
)

// Status holds process-level counters shown next to the rover state. All
// methods are safe for concurrent use and tolerate a nil receiver.
type Status struct {
	startUnixNano  int64
	lastTickNano   int64
	ticks          uint64
	telemetrySent  uint64
	samplesPublish uint64
	samplesStored  uint64
	tickInterval   atomic.Value // string
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.tickInterval.Store("")
	return s
}

func (s *Status) SetTickInterval(d time.Duration) {
	if s == nil {
		return
	}
	s.tickInterval.Store(d.String())
}

func (s *Status) MarkTick(nowUTC time.Time) {
	if s == nil {
		return
	}
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.ticks, 1)
}

func (s *Status) AddTelemetrySent(n int) {
	if s == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&s.telemetrySent, uint64(n))
}

func (s *Status) MarkSamplePublished() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.samplesPublish, 1)
}

func (s *Status) MarkSampleStored() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.samplesStored, 1)
}

type StatusSnapshot struct {
	Service          string `json:"service"`
	NowUTC           string `json:"now_utc"`
	UptimeSec        int64  `json:"uptime_sec"`
	TickInterval     string `json:"tick_interval"`
	TicksTotal       uint64 `json:"ticks_total"`
	LastTickUTC      string `json:"last_tick_utc,omitempty"`
	TelemetrySent    uint64 `json:"telemetry_sent_total"`
	SamplesPublished uint64 `json:"samples_published_total"`
	SamplesStored    uint64 `json:"samples_stored_total"`
	StreamClients    int    `json:"stream_clients"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service: "soil-rover",
		NowUTC:  nowUTC.UTC().Format(time.RFC3339Nano),
	}
	if s == nil {
		return snap
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap.UptimeSec = int64(nowUTC.Sub(start).Seconds())
	snap.TickInterval, _ = s.tickInterval.Load().(string)
	snap.TicksTotal = atomic.LoadUint64(&s.ticks)
	snap.TelemetrySent = atomic.LoadUint64(&s.telemetrySent)
	snap.SamplesPublished = atomic.LoadUint64(&s.samplesPublish)
	snap.SamplesStored = atomic.LoadUint64(&s.samplesStored)
	if lastTick := atomic.LoadInt64(&s.lastTickNano); lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
