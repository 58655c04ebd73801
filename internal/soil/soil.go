package soil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is the soil texture class at the sampling point.
type Type int

const (
	Other Type = iota
	Clay
	Sandy
	Loam
)

func (t Type) String() string {
	switch t {
	case Clay:
		return "clay"
	case Sandy:
		return "sandy"
	case Loam:
		return "loam"
	default:
		return "other"
	}
}

// ParseType maps a soil name to a Type. Field forms in the wild use either the
// English or the Spanish class names; anything else is Other.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "clay", "arcilloso":
		return Clay
	case "sandy", "sand", "arenoso":
		return Sandy
	case "loam", "franco":
		return Loam
	default:
		return Other
	}
}

// Moisture is the coarse moisture reading taken with the sample.
type Moisture int

const (
	MoistureUnknown Moisture = iota
	Low
	Medium
	High
)

func (m Moisture) String() string {
	switch m {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// ParseMoisture maps a moisture name to a Moisture; unknown names yield
// MoistureUnknown, which has no effect on the estimate.
func ParseMoisture(s string) Moisture {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "bajo":
		return Low
	case "medium", "medio":
		return Medium
	case "high", "alto":
		return High
	default:
		return MoistureUnknown
	}
}

// ParseFertilizer parses an applied fertilizer amount. Anything that is not a
// finite non-negative number counts as no fertilizer.
func ParseFertilizer(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Parameters are the environmental inputs captured when a sample is taken.
type Parameters struct {
	Type             Type     `json:"type" yaml:"type"`
	Moisture         Moisture `json:"moisture" yaml:"moisture"`
	FertilizerAmount float64  `json:"fertilizer" yaml:"fertilizer"`
}

func (p Parameters) String() string {
	return fmt.Sprintf("type=%s moisture=%s fertilizer=%g", p.Type, p.Moisture, p.FertilizerAmount)
}

const (
	MinPH = 0.0
	MaxPH = 14.0

	// Acidifying effect per unit of applied fertilizer.
	fertilizerPHPerUnit = -0.05
)

type typeProfile struct {
	initialPH      float64
	bufferCapacity float64
}

func profileFor(t Type) typeProfile {
	switch t {
	case Clay:
		return typeProfile{initialPH: 6.5, bufferCapacity: 0.8}
	case Sandy:
		return typeProfile{initialPH: 6.0, bufferCapacity: 0.3}
	case Loam:
		return typeProfile{initialPH: 7.0, bufferCapacity: 0.6}
	default:
		return typeProfile{initialPH: 7.0, bufferCapacity: 0.5}
	}
}

func moistureEffect(m Moisture) float64 {
	switch m {
	case Low:
		return 0.3
	case High:
		return -0.2
	default:
		return 0
	}
}

// EstimatePH returns the expected pH for p. The buffer capacity of the soil
// damps both moisture and fertilizer effects; only the final value is clamped
// to [MinPH, MaxPH].
func EstimatePH(p Parameters) float64 {
	prof := profileFor(p.Type)

	amount := p.FertilizerAmount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		amount = 0
	}

	change := (moistureEffect(p.Moisture) + fertilizerPHPerUnit*amount) * (1 - prof.bufferCapacity)
	return clamp(prof.initialPH+change, MinPH, MaxPH)
}

// FormatReading renders a pH value the way the rover display shows it.
func FormatReading(ph float64) string {
	return fmt.Sprintf("pH: %.2f", ph)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

func (m Moisture) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Moisture) UnmarshalText(b []byte) error {
	*m = ParseMoisture(string(b))
	return nil
}

// parametersWire accepts the fertilizer amount either as a number or as the
// raw text typed into a form field.
type parametersWire struct {
	Type       Type     `json:"type" yaml:"type"`
	Moisture   Moisture `json:"moisture" yaml:"moisture"`
	Fertilizer any      `json:"fertilizer" yaml:"fertilizer"`
}

func (w parametersWire) params() Parameters {
	p := Parameters{Type: w.Type, Moisture: w.Moisture}
	switch v := w.Fertilizer.(type) {
	case float64:
		p.FertilizerAmount = ParseFertilizer(strconv.FormatFloat(v, 'g', -1, 64))
	case int:
		p.FertilizerAmount = ParseFertilizer(strconv.Itoa(v))
	case string:
		p.FertilizerAmount = ParseFertilizer(v)
	}
	return p
}

// UnmarshalJSON rejects keys other than type, moisture and fertilizer.
func (p *Parameters) UnmarshalJSON(b []byte) error {
	var w parametersWire
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*p = w.params()
	return nil
}

// UnmarshalYAML rejects unknown keys the way a KnownFields decoder does;
// Node.Decode does not carry that setting into nested values.
func (p *Parameters) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.MappingNode {
		var unknown []string
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			switch k.Value {
			case "type", "moisture", "fertilizer":
			default:
				unknown = append(unknown, fmt.Sprintf("line %d: field %s not found in type soil.Parameters", k.Line, k.Value))
			}
		}
		if len(unknown) > 0 {
			return &yaml.TypeError{Errors: unknown}
		}
	}
	var w parametersWire
	if err := n.Decode(&w); err != nil {
		return err
	}
	*p = w.params()
	return nil
}
