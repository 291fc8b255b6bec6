package extraction

import (
	"hipmetrics/internal/models"
	"hipmetrics/pkg/geometry"
	"hipmetrics/pkg/registry"
)

// Side names used as metric suffixes
const (
	SideLeft  = "left"
	SideRight = "right"
)

// XRayMetricName returns the per-side metric name, e.g. ace_index_left
func XRayMetricName(metric, side string) string {
	return metric + "_" + side
}

// pelvis holds Hilgenreiner's line and its superior normal
type pelvis struct {
	a, b models.Point
	up   models.Point
}

func hilgenreiner(lm *models.LandmarksXRay) (pelvis, error) {
	if lm == nil || lm.Left.Inner == nil || lm.Right.Inner == nil {
		return pelvis{}, missing("hilgenreiner", "triradiate landmarks")
	}
	a, b := *lm.Left.Inner, *lm.Right.Inner
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return pelvis{}, &geometry.GeometryError{Op: "hilgenreiner", Reason: "coincident triradiate points"}
	}
	up := models.Point{X: dy, Y: -dx}
	if up.Y > 0 {
		up = models.Point{X: -up.X, Y: -up.Y}
	}
	return pelvis{a: a, b: b, up: up}, nil
}

// lateral returns the direction pointing away from the opposite hip
func (p pelvis) lateral(side string) models.Point {
	if side == SideLeft {
		return models.Point{X: p.a.X - p.b.X, Y: p.a.Y - p.b.Y}
	}
	return models.Point{X: p.b.X - p.a.X, Y: p.b.Y - p.a.Y}
}

func extractXRay(fm *FrameMetrics, lm *models.LandmarksXRay, profile *registry.MetricProfile) {
	pel, pelErr := hilgenreiner(lm)

	for _, side := range []string{SideLeft, SideRight} {
		var hip models.XRaySide
		if lm != nil {
			hip = lm.Left
			if side == SideRight {
				hip = lm.Right
			}
		}

		ace, aceErr := aceIndex(pel, pelErr, hip)
		if profile.Wants(registry.MetricAceIndex) {
			fm.set(XRayMetricName(registry.MetricAceIndex, side), ace, aceErr)
		}
		if profile.Wants(registry.MetricTonnis) {
			grade := 0.0
			if aceErr == nil {
				grade = float64(registry.Grade(profile.Thresholds.TonnisCutPoints, ace))
			}
			fm.set(XRayMetricName(registry.MetricTonnis, side), grade, aceErr)
		}
		if profile.Wants(registry.MetricWiberg) {
			v, err := wibergIndex(pel, pelErr, hip, side)
			fm.set(XRayMetricName(registry.MetricWiberg, side), v, err)
		}
		if profile.Wants(registry.MetricIHDI) {
			v, err := ihdiGrade(pel, pelErr, hip, side, profile.Thresholds.IHDICutPoints)
			fm.set(XRayMetricName(registry.MetricIHDI, side), v, err)
		}
	}
}

// aceIndex is the acute angle between Hilgenreiner's line and the acetabular roof
func aceIndex(pel pelvis, pelErr error, hip models.XRaySide) (float64, error) {
	if pelErr != nil {
		return 0, pelErr
	}
	if hip.Outer == nil {
		return 0, missing("ace index", "acetabular edge")
	}
	v, err := geometry.LineAngle(pel.a, pel.b, *hip.Inner, *hip.Outer)
	if err != nil {
		return 0, err
	}
	return geometry.Round(v, 2), nil
}

// wibergIndex is the centre-edge angle. A hip without a detected femoral
// head centre is reported as 0.
func wibergIndex(pel pelvis, pelErr error, hip models.XRaySide, side string) (float64, error) {
	if hip.HeadCenter == nil {
		return 0, nil
	}
	if pelErr != nil {
		return 0, pelErr
	}
	if hip.Outer == nil {
		return 0, missing("wiberg", "acetabular edge")
	}
	v, err := geometry.AxisAngle(*hip.HeadCenter, *hip.Outer, pel.up, pel.lateral(side))
	if err != nil {
		return 0, err
	}
	return geometry.Round(v, 2), nil
}

// ihdiGrade grades the H-point position relative to the P-line and
// Hilgenreiner's line. A hip without a detected H-point is graded 0.
func ihdiGrade(pel pelvis, pelErr error, hip models.XRaySide, side string, cutPoints []float64) (float64, error) {
	if hip.Metaphysis == nil {
		return 0, nil
	}
	if pelErr != nil {
		return 0, pelErr
	}
	if hip.Outer == nil {
		return 0, missing("ihdi", "acetabular edge")
	}
	origin, err := geometry.Project(*hip.Outer, pel.a, pel.b)
	if err != nil {
		return 0, err
	}
	down := models.Point{X: -pel.up.X, Y: -pel.up.Y}
	theta, err := geometry.AxisAngle(origin, *hip.Metaphysis, down, pel.lateral(side))
	if err != nil {
		return 0, err
	}
	return float64(registry.Grade(cutPoints, theta)), nil
}
