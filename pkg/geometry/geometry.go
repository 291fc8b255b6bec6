// Package geometry provides the angle, distance, ratio and curvature
// computations the hip metrics are built from. All functions are pure and
// safe for concurrent use.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"hipmetrics/internal/models"
)

// collinearTolerance is the minimum |sin| between two arms for them to
// count as non-collinear
const collinearTolerance = 1e-9

// GeometryError reports a computation that could not be carried out on the
// given landmarks. Op names the computation so callers can record which
// metric was lost.
type GeometryError struct {
	Op     string
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s: %s", e.Op, e.Reason)
}

func fail(op, format string, args ...interface{}) error {
	return &GeometryError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// Distance returns the euclidean distance between two points
func Distance(a, b models.Point) float64 {
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}

// AngleAt returns the interior angle at vertex formed by the rays towards a
// and b, in degrees. The three points must be distinct and non-collinear.
func AngleAt(vertex, a, b models.Point) (float64, error) {
	ax, ay := a.X-vertex.X, a.Y-vertex.Y
	bx, by := b.X-vertex.X, b.Y-vertex.Y

	la := math.Hypot(ax, ay)
	lb := math.Hypot(bx, by)
	if la == 0 || lb == 0 {
		return 0, fail("angle", "zero-length arm")
	}

	cross := ax*by - ay*bx
	if math.Abs(cross)/(la*lb) < collinearTolerance {
		return 0, fail("angle", "points are collinear")
	}

	cos := (ax*bx + ay*by) / (la * lb)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi, nil
}

// LineAngle returns the acute angle between line a1-a2 and line b1-b2 in
// degrees, in [0, 90].
func LineAngle(a1, a2, b1, b2 models.Point) (float64, error) {
	ax, ay := a2.X-a1.X, a2.Y-a1.Y
	bx, by := b2.X-b1.X, b2.Y-b1.Y

	la := math.Hypot(ax, ay)
	lb := math.Hypot(bx, by)
	if la == 0 || lb == 0 {
		return 0, fail("line angle", "zero-length line")
	}

	cos := math.Abs(ax*bx+ay*by) / (la * lb)
	cos = math.Min(1, cos)
	return math.Acos(cos) * 180 / math.Pi, nil
}

// Ratio divides num by den, failing on a zero denominator
func Ratio(num, den float64) (float64, error) {
	if den == 0 {
		return 0, fail("ratio", "zero denominator")
	}
	return num / den, nil
}

// SignedOffset returns the signed perpendicular distance of p from the line
// through a and b. Positive values lie to the left of a->b in image
// coordinates.
func SignedOffset(p, a, b models.Point) (float64, error) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, fail("offset", "zero-length line")
	}
	return (dx*(p.Y-a.Y) - dy*(p.X-a.X)) / l, nil
}

// Project returns the foot of the perpendicular from p onto the line through
// a and b.
func Project(p, a, b models.Point) (models.Point, error) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return models.Point{}, fail("project", "zero-length line")
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
	return models.Point{X: a.X + t*dx, Y: a.Y + t*dy}, nil
}

// Round rounds v to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// AxisAngle returns the angle in degrees of the vector origin->target
// measured from the forward axis towards the side axis, in (-180, 180].
// Both axes must be non-zero; they are not required to be unit length.
func AxisAngle(origin, target, forward, side models.Point) (float64, error) {
	fl := math.Hypot(forward.X, forward.Y)
	sl := math.Hypot(side.X, side.Y)
	if fl == 0 || sl == 0 {
		return 0, fail("axis angle", "zero-length axis")
	}
	vx, vy := target.X-origin.X, target.Y-origin.Y
	if vx == 0 && vy == 0 {
		return 0, fail("axis angle", "target coincides with origin")
	}
	along := (vx*forward.X + vy*forward.Y) / fl
	across := (vx*side.X + vy*side.Y) / sl
	return math.Atan2(across, along) * 180 / math.Pi, nil
}
