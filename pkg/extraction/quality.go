package extraction

import (
	"hipmetrics/internal/models"
	"hipmetrics/pkg/geometry"
	"hipmetrics/pkg/registry"
)

// Reasons a frame is rejected from frame selection
const (
	ReasonNotSegmented   = "Not Segmented"
	ReasonNoLandmarks    = "No Landmarks"
	ReasonNoMetrics      = "No Metrics"
	ReasonBadAlpha       = "Alpha Angle Non-Sensical"
	ReasonIliumNotFlat   = "Ilium Line not Flat"
	ReasonBadCoverage    = "Coverage Value Non-Sensical"
	ReasonApexRightClose = "Apex and Right Too Close"
)

// Assess decides whether an ultrasound frame may take part in frame
// selection and records the verdict on the metrics. Checks run in order
// and the first failing one names the reason.
func Assess(frame models.Frame, fm *FrameMetrics, profile *registry.MetricProfile) {
	fm.Usable, fm.Reason = assess(frame, *fm, profile)
}

func assess(frame models.Frame, fm FrameMetrics, profile *registry.MetricProfile) (bool, string) {
	th := profile.Thresholds
	lm := frame.US

	if !frame.Segmented {
		if frame.FailureReason != "" {
			return false, frame.FailureReason
		}
		return false, ReasonNotSegmented
	}
	if !fm.AnyNonZero() {
		return false, ReasonNoMetrics
	}
	if lm == nil {
		return false, ReasonNoLandmarks
	}

	if profile.Wants(registry.MetricAlpha) {
		alpha := fm.Get(registry.MetricAlpha)
		if !alpha.Available || !th.AlphaRange.Contains(alpha.Number) {
			return false, ReasonBadAlpha
		}
	}

	if !profile.AllowIrregularIlium && lm.Left != nil && lm.Apex != nil {
		horizontal := models.Point{X: lm.Left.X + 1, Y: lm.Left.Y}
		tilt, err := geometry.LineAngle(*lm.Left, *lm.Apex, *lm.Left, horizontal)
		if err != nil || tilt >= th.IliumFlatMaxAngle {
			return false, ReasonIliumNotFlat
		}
	}

	if profile.Wants(registry.MetricCoverage) {
		cov := fm.Get(registry.MetricCoverage)
		if !cov.Available || !th.CoverageRange.Contains(cov.Number) {
			return false, ReasonBadCoverage
		}
	}

	// a missing apex or right point counts as too close
	if lm.Apex == nil || lm.Right == nil || geometry.Distance(*lm.Apex, *lm.Right) < th.ApexRightMinDistance {
		return false, ReasonApexRightClose
	}

	return true, ""
}
