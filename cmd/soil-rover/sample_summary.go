package main

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"soil-rover/internal/sim"
)

type waypointStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func (w waypointStats) Mean() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.Sum / float64(w.Count)
}

type sampleSummary struct {
	Samples    int
	Manual     int
	MinPH      float64
	MaxPH      float64
	ByWaypoint map[int]waypointStats
}

func summarizeSamples(samples []sim.Sample) sampleSummary {
	s := sampleSummary{
		MinPH:      math.Inf(1),
		MaxPH:      math.Inf(-1),
		ByWaypoint: map[int]waypointStats{},
	}
	for _, smp := range samples {
		s.Samples++
		s.MinPH = math.Min(s.MinPH, smp.PH)
		s.MaxPH = math.Max(s.MaxPH, smp.PH)
		if smp.Waypoint < 0 {
			s.Manual++
			continue
		}
		w, ok := s.ByWaypoint[smp.Waypoint]
		if !ok {
			w.Min, w.Max = smp.PH, smp.PH
		}
		w.Count++
		w.Sum += smp.PH
		w.Min = math.Min(w.Min, smp.PH)
		w.Max = math.Max(w.Max, smp.PH)
		s.ByWaypoint[smp.Waypoint] = w
	}
	if s.Samples == 0 {
		s.MinPH, s.MaxPH = 0, 0
	}
	return s
}

func (s sampleSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "samples=%d manual=%d", s.Samples, s.Manual)
	if s.Samples > 0 {
		fmt.Fprintf(&b, " ph_min=%.2f ph_max=%.2f", s.MinPH, s.MaxPH)
	}
	b.WriteString("\n")

	idx := make([]int, 0, len(s.ByWaypoint))
	for k := range s.ByWaypoint {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	for _, k := range idx {
		w := s.ByWaypoint[k]
		fmt.Fprintf(&b, "  waypoint %2d: n=%d mean=%.2f min=%.2f max=%.2f\n", k, w.Count, w.Mean(), w.Min, w.Max)
	}
	return b.String()
}
