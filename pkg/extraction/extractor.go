package extraction

import (
	"fmt"
	"sync"

	"hipmetrics/internal/logger"
	"hipmetrics/internal/models"
	"hipmetrics/pkg/geometry"
	"hipmetrics/pkg/registry"
)

// MetricLandmarkCount is the built-in custom metric counting detected landmarks
const MetricLandmarkCount = "landmark_count"

// CustomMetric computes an additional per-frame metric from a frame's landmarks
type CustomMetric func(frame models.Frame) (float64, error)

// Extractor computes per-frame metrics. It holds no per-study state and is
// safe for concurrent use once custom metrics are registered.
type Extractor struct {
	log *logger.Logger

	mu     sync.RWMutex
	custom map[string]CustomMetric
}

// NewExtractor creates an extractor with the built-in custom metrics registered
func NewExtractor(log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Nop()
	}
	e := &Extractor{log: log, custom: make(map[string]CustomMetric)}
	e.RegisterCustom(MetricLandmarkCount, landmarkCount)
	return e
}

// RegisterCustom adds a named per-frame metric. Profiles that list the name
// get it computed on every frame.
func (e *Extractor) RegisterCustom(name string, fn CustomMetric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

func (e *Extractor) customMetric(name string) (CustomMetric, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.custom[name]
	return fn, ok
}

// Extract computes the metrics the profile asks for on one frame.
// It never fails as a whole: missing or malformed landmarks leave the
// affected metrics unavailable.
func (e *Extractor) Extract(frame models.Frame, modality models.Modality, profile *registry.MetricProfile) FrameMetrics {
	fm := newFrameMetrics(frame.Index)

	if modality == models.ModalityXRay {
		extractXRay(&fm, frame.XRay, profile)
	} else {
		extractUS(&fm, frame.US, profile)
	}

	for _, name := range profile.Metrics {
		fn, ok := e.customMetric(name)
		if !ok {
			continue
		}
		v, err := fn(frame)
		fm.set(name, v, err)
	}

	for name, msg := range fm.Errors {
		e.log.Debug("metric unavailable", "frame", frame.Index, "metric", name, "error", msg)
	}
	return fm
}

func extractUS(fm *FrameMetrics, lm *models.LandmarksUS, profile *registry.MetricProfile) {
	if profile.Wants(registry.MetricAlpha) {
		v, err := AlphaAngle(lm)
		fm.set(registry.MetricAlpha, v, err)
	}
	if profile.Wants(registry.MetricCoverage) {
		v, err := Coverage(lm)
		fm.set(registry.MetricCoverage, v, err)
	}
	if profile.Wants(registry.MetricCurvature) {
		v, err := RoofCurvature(lm)
		fm.set(registry.MetricCurvature, v, err)
	}
}

func missing(op, what string) error {
	return &geometry.GeometryError{Op: op, Reason: fmt.Sprintf("missing %s", what)}
}

// AlphaAngle is the angle between the ilium baseline and the bony roof line,
// in degrees rounded to two places.
func AlphaAngle(lm *models.LandmarksUS) (float64, error) {
	if !lm.HasIlium() {
		return 0, missing("alpha", "ilium landmarks")
	}
	interior, err := geometry.AngleAt(*lm.Apex, *lm.Left, *lm.Right)
	if err != nil {
		return 0, err
	}
	return geometry.Round(180-interior, 2), nil
}

// Coverage is the fraction of the femoral head lying under the ilium baseline
func Coverage(lm *models.LandmarksUS) (float64, error) {
	if !lm.HasFemoralHead() || lm.MidCov == nil {
		return 0, missing("coverage", "femoral head landmarks")
	}
	v, err := geometry.Ratio(geometry.Distance(*lm.Pointd, *lm.MidCov), geometry.Distance(*lm.Pointd, *lm.PointD))
	if err != nil {
		return 0, err
	}
	return geometry.Round(v, 2), nil
}

// RoofCurvature is the scale-free curvature of the acetabular roof contour
func RoofCurvature(lm *models.LandmarksUS) (float64, error) {
	if lm == nil || len(lm.Roof) == 0 {
		return 0, missing("curvature", "roof contour")
	}
	v, err := geometry.Curvature(lm.Roof)
	if err != nil {
		return 0, err
	}
	return geometry.Round(v, 2), nil
}

func landmarkCount(frame models.Frame) (float64, error) {
	count := 0
	if us := frame.US; us != nil {
		for _, p := range []*models.Point{us.Left, us.Apex, us.Right, us.PointD, us.Pointd, us.MidCov} {
			if p != nil {
				count++
			}
		}
		if len(us.Roof) > 0 {
			count++
		}
	}
	if xr := frame.XRay; xr != nil {
		for _, side := range []models.XRaySide{xr.Left, xr.Right} {
			for _, p := range []*models.Point{side.Inner, side.Outer, side.HeadCenter, side.Metaphysis} {
				if p != nil {
					count++
				}
			}
		}
	}
	return float64(count), nil
}
