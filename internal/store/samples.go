package store

import (
	"database/sql"
	"fmt"
	"time"

	"soil-rover/internal/sim"
	"soil-rover/internal/soil"
)

// WaypointSummary aggregates the samples taken at one tour index.
type WaypointSummary struct {
	Waypoint int     `json:"waypoint"`
	Count    int     `json:"count"`
	MeanPH   float64 `json:"mean_ph"`
	MinPH    float64 `json:"min_ph"`
	MaxPH    float64 `json:"max_ph"`
}

// Fixed-width so lexical order in SQLite matches time order.
const takenAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (db *DB) InsertSample(s sim.Sample) error {
	_, err := db.Exec(`INSERT INTO samples (id, waypoint, x, y, ph, soil_type, moisture, fertilizer, mode, taken_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Waypoint, s.X, s.Y, s.PH,
		s.Soil.Type.String(), s.Soil.Moisture.String(), s.Soil.FertilizerAmount,
		s.Mode.String(), s.TakenAt.UTC().Format(takenAtLayout))
	if err != nil {
		return fmt.Errorf("insert sample %s: %w", s.ID, err)
	}
	return nil
}

// ListSamples returns the most recent samples, newest first.
func (db *DB) ListSamples(limit int) ([]sim.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT id, waypoint, x, y, ph, soil_type, moisture, fertilizer, mode, taken_at FROM samples ORDER BY taken_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (db *DB) ListSamplesByWaypoint(waypoint int) ([]sim.Sample, error) {
	rows, err := db.Query(`SELECT id, waypoint, x, y, ph, soil_type, moisture, fertilizer, mode, taken_at FROM samples WHERE waypoint = ? ORDER BY taken_at ASC, rowid ASC`, waypoint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// SummarizeWaypoints returns pH statistics per tour index, ignoring manual
// samples.
func (db *DB) SummarizeWaypoints() ([]WaypointSummary, error) {
	rows, err := db.Query(`SELECT waypoint, COUNT(*), AVG(ph), MIN(ph), MAX(ph) FROM samples WHERE waypoint >= 0 GROUP BY waypoint ORDER BY waypoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WaypointSummary
	for rows.Next() {
		var w WaypointSummary
		if err := rows.Scan(&w.Waypoint, &w.Count, &w.MeanPH, &w.MinPH, &w.MaxPH); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (db *DB) CountSamples() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&n)
	return n, err
}

func scanSamples(rows *sql.Rows) ([]sim.Sample, error) {
	var out []sim.Sample
	for rows.Next() {
		var (
			s                        sim.Sample
			soilType, moisture, mode string
			takenAt                  string
		)
		if err := rows.Scan(&s.ID, &s.Waypoint, &s.X, &s.Y, &s.PH, &soilType, &moisture, &s.Soil.FertilizerAmount, &mode, &takenAt); err != nil {
			return nil, err
		}
		s.Soil.Type = soil.ParseType(soilType)
		s.Soil.Moisture = soil.ParseMoisture(moisture)
		m, err := sim.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", s.ID, err)
		}
		s.Mode = m
		t, err := time.Parse(time.RFC3339Nano, takenAt)
		if err != nil {
			return nil, fmt.Errorf("sample %s taken_at: %w", s.ID, err)
		}
		s.TakenAt = t
		out = append(out, s)
	}
	return out, rows.Err()
}
