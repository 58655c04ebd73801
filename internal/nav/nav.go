package nav

import (
	"math"

	"soil-rover/internal/waypoint"
)

// Pose is the rover position in field units and its heading in radians
// (0 points along +x, positive turns toward +y).
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Params are the steering constants. The zero value is not useful; start from
// DefaultParams.
type Params struct {
	// TurnRate is the maximum heading change per auto step, in radians.
	TurnRate float64
	// AlignTolerance is how closely the rover must face the target before it
	// drives forward.
	AlignTolerance float64
	// ArrivalRadius is the distance at which a target counts as reached.
	ArrivalRadius float64
	// ManualTurnStep is the heading change per manual rotate key.
	ManualTurnStep float64
}

func DefaultParams() Params {
	return Params{
		TurnRate:       0.05,
		AlignTolerance: 0.1,
		ArrivalRadius:  5,
		ManualTurnStep: 0.1,
	}
}

// NormalizeAngle maps a into (-π, π].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Distance returns the Euclidean distance from p to target.
func Distance(p Pose, target waypoint.Point) float64 {
	return math.Hypot(target.X-p.X, target.Y-p.Y)
}

// HeadingError returns the signed turn needed for p to face target.
func HeadingError(p Pose, target waypoint.Point) float64 {
	want := math.Atan2(target.Y-p.Y, target.X-p.X)
	return NormalizeAngle(want - p.Heading)
}

// Step advances an autonomous rover one tick toward target. It reports
// arrived=true, leaving the pose untouched, once the target is inside the
// arrival radius.
//
// Turning and driving are decoupled: the heading moves toward the target by at
// most TurnRate, and the rover only drives forward once it was already facing
// the target within AlignTolerance. This produces curved approaches instead
// of snapping onto the bearing.
func Step(p Pose, target waypoint.Point, speed float64, prm Params) (Pose, bool) {
	if Distance(p, target) < prm.ArrivalRadius {
		return p, true
	}

	delta := HeadingError(p, target)
	turn := math.Min(math.Abs(delta), prm.TurnRate)
	if delta < 0 {
		turn = -turn
	}
	p.Heading = NormalizeAngle(p.Heading + turn)

	if math.Abs(delta) < prm.AlignTolerance {
		p.X += speed * math.Cos(p.Heading)
		p.Y += speed * math.Sin(p.Heading)
	}
	return p, false
}

// ApplyKey applies one manual drive command. Trigger does not move the rover.
func ApplyKey(p Pose, k Key, speed float64, prm Params) Pose {
	switch k {
	case Forward:
		p.X += speed * math.Cos(p.Heading)
		p.Y += speed * math.Sin(p.Heading)
	case Backward:
		p.X -= speed * math.Cos(p.Heading)
		p.Y -= speed * math.Sin(p.Heading)
	case RotateLeft:
		p.Heading = NormalizeAngle(p.Heading - prm.ManualTurnStep)
	case RotateRight:
		p.Heading = NormalizeAngle(p.Heading + prm.ManualTurnStep)
	}
	return p
}
