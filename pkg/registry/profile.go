// Package registry maps study keyphrases to metric profiles. A profile names
// the metrics a clinical protocol reports and the thresholds used to grade
// and to reject frames, so protocols differ by configuration instead of code.
package registry

import (
	"fmt"
	"sort"
)

// Metric names understood by the built-in extractor
const (
	MetricAlpha     = "alpha"
	MetricCoverage  = "coverage"
	MetricCurvature = "curvature"

	MetricAceIndex = "ace_index"
	MetricWiberg   = "wiberg_index"
	MetricIHDI     = "ihdi_grade"
	MetricTonnis   = "tonnis_grade"
)

// IsBilateral reports whether an X-ray metric is measured once per hip
func IsBilateral(metric string) bool {
	switch metric {
	case MetricAceIndex, MetricWiberg, MetricIHDI, MetricTonnis:
		return true
	}
	return false
}

// Aggregation selects how the whole-sweep ("full") value of a 3D metric is derived
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateMax  Aggregation = "max"
	AggregateMin  Aggregation = "min"
	AggregateGraf Aggregation = "graf"
)

// Range is an inclusive interval
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the range
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Thresholds holds the clinical cut-points and frame rejection limits of a profile
type Thresholds struct {
	// TonnisCutPoints are ascending acetabular index values (degrees).
	// An index below the first cut-point is grade 1, each cut-point passed adds one.
	TonnisCutPoints []float64 `yaml:"tonnisCutPoints"`

	// IHDICutPoints are ascending H-point position angles (degrees) measured
	// from the P-line towards Hilgenreiner's line; same grading rule as Tönnis.
	IHDICutPoints []float64 `yaml:"ihdiCutPoints"`

	// AlphaRange outside of which an alpha angle is considered non-sensical
	AlphaRange Range `yaml:"alphaRange"`

	// CoverageRange outside of which a coverage value is considered non-sensical
	CoverageRange Range `yaml:"coverageRange"`

	// IliumFlatMaxAngle is the largest tilt of the left-apex baseline (degrees)
	IliumFlatMaxAngle float64 `yaml:"iliumFlatMaxAngle"`

	// ApexRightMinDistance is the smallest apex to right distance in pixels
	ApexRightMinDistance float64 `yaml:"apexRightMinDistance"`

	// MinMarkedFraction of a sweep's frames that must be usable
	MinMarkedFraction float64 `yaml:"minMarkedFraction"`

	// ApexMaxPixelErr is the residual above which apex smoothing replaces a point
	ApexMaxPixelErr float64 `yaml:"apexMaxPixelErr"`
}

// MetricProfile describes one named analysis profile
type MetricProfile struct {
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`

	// Metrics lists the reported metrics in report order. X-ray metrics are
	// named without side and reported once per hip.
	Metrics []string `yaml:"metrics"`

	// Full maps a metric to its whole-sweep aggregation; unlisted metrics use the mean
	Full map[string]Aggregation `yaml:"full"`

	Thresholds Thresholds `yaml:"thresholds"`

	// AllowIrregularIlium keeps frames whose ilium baseline is not flat
	AllowIrregularIlium bool `yaml:"allowIrregularIlium"`

	// SmoothApex replaces outlying apex points with a polyfit across the sweep
	SmoothApex bool `yaml:"smoothApex"`

	// PosteriorFirst is true when sweeps are acquired posterior to anterior
	PosteriorFirst bool `yaml:"posteriorFirst"`
}

// DefaultThresholds returns the cut-points used when a profile does not override them
func DefaultThresholds() Thresholds {
	return Thresholds{
		TonnisCutPoints:      []float64{15, 30, 40},
		IHDICutPoints:        []float64{0, 45, 90},
		AlphaRange:           Range{Min: 10, Max: 90},
		CoverageRange:        Range{Min: 0.01, Max: 1},
		IliumFlatMaxAngle:    10,
		ApexRightMinDistance: 30,
		MinMarkedFraction:    0.2,
		ApexMaxPixelErr:      8,
	}
}

// Wants reports whether the profile lists the metric
func (p *MetricProfile) Wants(metric string) bool {
	for _, m := range p.Metrics {
		if m == metric {
			return true
		}
	}
	return false
}

// FullAggregation returns the whole-sweep aggregation for a metric
func (p *MetricProfile) FullAggregation(metric string) Aggregation {
	if agg, ok := p.Full[metric]; ok {
		return agg
	}
	return AggregateMean
}

// Clone returns a deep copy so callers cannot alter registry state
func (p *MetricProfile) Clone() *MetricProfile {
	c := *p
	c.Metrics = append([]string(nil), p.Metrics...)
	c.Thresholds.TonnisCutPoints = append([]float64(nil), p.Thresholds.TonnisCutPoints...)
	c.Thresholds.IHDICutPoints = append([]float64(nil), p.Thresholds.IHDICutPoints...)
	if p.Full != nil {
		c.Full = make(map[string]Aggregation, len(p.Full))
		for k, v := range p.Full {
			c.Full[k] = v
		}
	}
	return &c
}

// Validate checks that the profile is usable
func (p *MetricProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile has no name")
	}
	if len(p.Metrics) == 0 {
		return fmt.Errorf("profile %q lists no metrics", p.Name)
	}
	seen := make(map[string]bool, len(p.Metrics))
	for _, m := range p.Metrics {
		if m == "" {
			return fmt.Errorf("profile %q has an empty metric name", p.Name)
		}
		if seen[m] {
			return fmt.Errorf("profile %q lists metric %q twice", p.Name, m)
		}
		seen[m] = true
	}
	for m, agg := range p.Full {
		switch agg {
		case AggregateMean, AggregateMax, AggregateMin, AggregateGraf:
		default:
			return fmt.Errorf("profile %q: unknown aggregation %q for %s", p.Name, agg, m)
		}
	}
	if !sort.Float64sAreSorted(p.Thresholds.TonnisCutPoints) {
		return fmt.Errorf("profile %q: tonnis cut-points must be ascending", p.Name)
	}
	if !sort.Float64sAreSorted(p.Thresholds.IHDICutPoints) {
		return fmt.Errorf("profile %q: ihdi cut-points must be ascending", p.Name)
	}
	if f := p.Thresholds.MinMarkedFraction; f < 0 || f > 1 {
		return fmt.Errorf("profile %q: minMarkedFraction %v outside [0, 1]", p.Name, f)
	}
	return nil
}

// Grade maps a continuous value onto 1 + the number of cut-points it has reached
func Grade(cutPoints []float64, v float64) int {
	return 1 + sort.Search(len(cutPoints), func(i int) bool { return cutPoints[i] > v })
}
