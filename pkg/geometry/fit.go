package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"hipmetrics/internal/models"
)

// PolyFit fits a least-squares polynomial of the given degree to the samples
// (t[i], v[i]) and returns its coefficients in ascending order of power.
// The system is solved with a QR decomposition of the Vandermonde matrix.
func PolyFit(t, v []float64, degree int) ([]float64, error) {
	if degree < 0 {
		return nil, fail("polyfit", "negative degree %d", degree)
	}
	if len(t) != len(v) {
		return nil, fail("polyfit", "got %d abscissae and %d values", len(t), len(v))
	}
	n, cols := len(t), degree+1
	if n < cols {
		return nil, fail("polyfit", "need at least %d samples, got %d", cols, n)
	}

	A := mat.NewDense(n, cols, nil)
	for i, ti := range t {
		p := 1.0
		for j := 0; j < cols; j++ {
			A.Set(i, j, p)
			p *= ti
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), v...))

	var qr mat.QR
	qr.Factorize(A)

	x := mat.NewDense(cols, 1, nil)
	if err := qr.SolveTo(x, false, b); err != nil {
		return nil, fail("polyfit", "singular system: %v", err)
	}

	coeffs := make([]float64, cols)
	for j := range coeffs {
		coeffs[j] = x.At(j, 0)
		if math.IsNaN(coeffs[j]) || math.IsInf(coeffs[j], 0) {
			return nil, fail("polyfit", "non-finite coefficient")
		}
	}
	return coeffs, nil
}

// PolyEval evaluates ascending-order coefficients at t
func PolyEval(coeffs []float64, t float64) float64 {
	var y float64
	for j := len(coeffs) - 1; j >= 0; j-- {
		y = y*t + coeffs[j]
	}
	return y
}

// Curvature fits a quadratic through the contour and returns the curvature
// at the middle of its x range, scaled by the chord length between the first
// and last contour points so the result does not depend on image scale.
func Curvature(contour []models.Point) (float64, error) {
	if len(contour) < 3 {
		return 0, fail("curvature", "need at least 3 contour points, got %d", len(contour))
	}

	xs := make([]float64, len(contour))
	ys := make([]float64, len(contour))
	for i, p := range contour {
		xs[i] = p.X
		ys[i] = p.Y
	}

	lo, hi := floats.Min(xs), floats.Max(xs)
	if hi-lo < 1e-9 {
		return 0, fail("curvature", "degenerate x range")
	}

	// centre the abscissae to keep the Vandermonde system well conditioned
	mx := stat.Mean(xs, nil)
	centred := append([]float64(nil), xs...)
	floats.AddConst(-mx, centred)

	c, err := PolyFit(centred, ys, 2)
	if err != nil {
		return 0, fail("curvature", "%v", err)
	}

	x0 := (lo+hi)/2 - mx
	slope := 2*c[2]*x0 + c[1]
	kappa := math.Abs(2*c[2]) / math.Pow(1+slope*slope, 1.5)

	chord := Distance(contour[0], contour[len(contour)-1])
	return kappa * chord, nil
}
