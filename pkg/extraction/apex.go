package extraction

import (
	"math"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/geometry"
)

// apexFitDegree is the degree of the x(t), y(t) polynomials fitted across a sweep
const apexFitDegree = 2

// SmoothApex replaces apex points that stray more than maxPixelErr from a
// polynomial fitted through the apex track of the whole sweep. Frames are
// returned as copies; the input is left untouched. Missing apexes are not
// filled in, and sweeps with too few apexes to fit are returned unchanged.
func SmoothApex(frames []models.Frame, maxPixelErr float64) []models.Frame {
	out := append([]models.Frame(nil), frames...)

	var idx []int
	var ts, xs, ys []float64
	for i, f := range frames {
		if f.US == nil || f.US.Apex == nil {
			continue
		}
		idx = append(idx, i)
		ts = append(ts, float64(f.Index))
		xs = append(xs, f.US.Apex.X)
		ys = append(ys, f.US.Apex.Y)
	}
	if len(idx) < apexFitDegree+1 {
		return out
	}

	px, err := geometry.PolyFit(ts, xs, apexFitDegree)
	if err != nil {
		return out
	}
	py, err := geometry.PolyFit(ts, ys, apexFitDegree)
	if err != nil {
		return out
	}

	for k, i := range idx {
		fx, fy := geometry.PolyEval(px, ts[k]), geometry.PolyEval(py, ts[k])
		if math.Hypot(xs[k]-fx, ys[k]-fy) <= maxPixelErr {
			continue
		}
		fit := models.Point{X: math.Round(fx), Y: math.Round(fy)}
		lm := *frames[i].US
		lm.Apex = &fit
		out[i].US = &lm
	}
	return out
}
