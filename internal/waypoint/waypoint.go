package waypoint

import (
	"errors"
	"fmt"
)

// ErrDegenerateGrid is returned when the grid cannot be evenly spaced.
var ErrDegenerateGrid = errors.New("degenerate waypoint grid")

// Point is a fixed field position in field units (origin top-left).
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Grid describes the field and the sampling pattern laid over it.
type Grid struct {
	Width  float64
	Height float64
	Margin float64
	Rows   int
	Cols   int
}

// Validate reports whether g can produce an evenly spaced tour.
func (g Grid) Validate() error {
	if g.Rows < 2 {
		return fmt.Errorf("%w: rows=%d must be >= 2", ErrDegenerateGrid, g.Rows)
	}
	if g.Cols < 2 {
		return fmt.Errorf("%w: cols=%d must be >= 2", ErrDegenerateGrid, g.Cols)
	}
	if g.Margin < 0 {
		return fmt.Errorf("%w: margin=%g must be >= 0", ErrDegenerateGrid, g.Margin)
	}
	if g.Width-2*g.Margin <= 0 {
		return fmt.Errorf("%w: width=%g leaves no room inside margin=%g", ErrDegenerateGrid, g.Width, g.Margin)
	}
	if g.Height-2*g.Margin <= 0 {
		return fmt.Errorf("%w: height=%g leaves no room inside margin=%g", ErrDegenerateGrid, g.Height, g.Margin)
	}
	return nil
}

// Generate returns the Rows*Cols sampling points in boustrophedon order: even
// rows run left to right, odd rows right to left, so consecutive points are
// always neighbours.
func Generate(g Grid) ([]Point, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	stepX := (g.Width - 2*g.Margin) / float64(g.Cols-1)
	stepY := (g.Height - 2*g.Margin) / float64(g.Rows-1)

	out := make([]Point, 0, g.Rows*g.Cols)
	for row := 0; row < g.Rows; row++ {
		y := g.Margin + float64(row)*stepY
		for i := 0; i < g.Cols; i++ {
			col := i
			if row%2 != 0 {
				col = g.Cols - 1 - i
			}
			out = append(out, Point{X: g.Margin + float64(col)*stepX, Y: y})
		}
	}
	return out, nil
}
