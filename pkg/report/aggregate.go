package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/extraction"
	"hipmetrics/pkg/geometry"
	"hipmetrics/pkg/registry"
	"hipmetrics/pkg/sweep"
)

// Placeholder is reported for a scalar metric that cannot be trusted,
// so consumers always receive the full key set.
const Placeholder = 0.0

// fallbackError is recorded when the sweep is flagged critical without a reason
const fallbackError = "critical sweep error"

// input is what every shaping function sees
type input struct {
	frames   map[int]extraction.FrameMetrics
	dev      sweep.DevMetrics
	profile  *registry.MetricProfile
	critical bool
}

type shapeFunc func(in input) []Entry

var shapes = map[models.Modality]shapeFunc{
	models.Modality3DUS:    shapeSweep3D,
	models.Modality2DUS:    shapeGrafScalar,
	models.ModalityUSSweep: shapeGrafScalar,
	models.ModalityXRay:    shapeXRay,
}

// Aggregate builds the report of one study from its per-frame metrics and
// finished sweep state. sweepErr is the sweep's critical error, if any, and
// becomes the report's recorded error. Inputs are never modified.
func Aggregate(modality models.Modality, frames map[int]extraction.FrameMetrics, dev sweep.DevMetrics,
	profile *registry.MetricProfile, sweepErr error) (*Report, error) {
	return AggregateWith(modality, frames, dev, profile, sweepErr, nil)
}

// AggregateWith is Aggregate with study-level custom metrics. A profile metric
// named in study is computed by its function instead of from the frames.
func AggregateWith(modality models.Modality, frames map[int]extraction.FrameMetrics, dev sweep.DevMetrics,
	profile *registry.MetricProfile, sweepErr error, study StudyMetrics) (*Report, error) {
	shape, ok := shapes[modality]
	if !ok {
		return nil, fmt.Errorf("unsupported modality %q", modality)
	}
	if profile == nil {
		return nil, errors.New("no metric profile given")
	}

	in := input{
		frames:   frames,
		dev:      dev,
		profile:  profile,
		critical: dev.CriticalError || sweepErr != nil,
	}

	r := &Report{
		Modality:  modality,
		Keyphrase: profile.Name,
		Metrics:   shape(in),
	}
	if modality != models.ModalityXRay {
		d := dev.Clone()
		if sweepErr != nil {
			d.CriticalError = true
		}
		r.Dev = &d
		if len(study) > 0 {
			applyStudyMetrics(r, in, study)
		}
	}

	switch {
	case sweepErr != nil:
		msg := sweepErr.Error()
		r.RecordedError = &msg
	case dev.CriticalError:
		msg := fallbackError
		r.RecordedError = &msg
	}
	return r, nil
}

// usable returns the usable frame indices in ascending order
func (in input) usable() []int {
	var idx []int
	for i, fm := range in.frames {
		if fm.Usable {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	return idx
}

func (in input) value(frame int, metric string) Value {
	fm, ok := in.frames[frame]
	if !ok {
		return NA
	}
	if v := fm.Get(metric); v.Available {
		return Num(v.Number)
	}
	return NA
}

// nearest returns the frame in sorted closest to target, the earlier one on ties
func nearest(sorted []int, target float64) int {
	best, bestDist := sorted[0], math.Inf(1)
	for _, i := range sorted {
		if d := math.Abs(float64(i) - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func shapeSweep3D(in input) []Entry {
	usable := in.usable()
	resolved := !in.critical && in.dev.GrafFrame != nil && len(usable) > 0

	var posterior, graf, anterior int
	if resolved {
		graf = *in.dev.GrafFrame
		first, last := usable[0], usable[len(usable)-1]
		early := nearest(usable, float64(first+graf)/2)
		late := nearest(usable, float64(graf+last)/2)
		if !in.profile.PosteriorFirst {
			early, late = late, early
		}
		posterior, anterior = early, late
	}

	entries := make([]Entry, 0, len(in.profile.Metrics))
	for _, metric := range in.profile.Metrics {
		e := Entry{Name: metric, Tuple: true, Values: []Value{NA, NA, NA, NA}}
		if resolved {
			e.Values = []Value{
				in.value(posterior, metric),
				in.value(graf, metric),
				in.value(anterior, metric),
				in.full(metric, usable, graf),
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// full derives the whole-sweep value of a metric over the usable frames
func (in input) full(metric string, usable []int, graf int) Value {
	agg := in.profile.FullAggregation(metric)
	if agg == registry.AggregateGraf {
		return in.value(graf, metric)
	}

	var xs []float64
	for _, i := range usable {
		if v := in.frames[i].Get(metric); v.Available {
			xs = append(xs, v.Number)
		}
	}
	if len(xs) == 0 {
		return NA
	}

	var v float64
	switch agg {
	case registry.AggregateMax:
		v = floats.Max(xs)
	case registry.AggregateMin:
		v = floats.Min(xs)
	default:
		v = stat.Mean(xs, nil)
	}
	return Num(geometry.Round(v, 2))
}

func shapeGrafScalar(in input) []Entry {
	entries := make([]Entry, 0, len(in.profile.Metrics))
	for _, metric := range in.profile.Metrics {
		v := Num(Placeholder)
		if !in.critical && in.dev.GrafFrame != nil {
			if got := in.value(*in.dev.GrafFrame, metric); !got.NA {
				v = got
			}
		}
		entries = append(entries, Scalar(metric, v))
	}
	return entries
}

func shapeXRay(in input) []Entry {
	frame := -1
	for i := range in.frames {
		if frame < 0 || i < frame {
			frame = i
		}
	}

	scalar := func(name string) Entry {
		v := Num(Placeholder)
		if !in.critical && frame >= 0 {
			if got := in.value(frame, name); !got.NA {
				v = got
			}
		}
		return Scalar(name, v)
	}

	var entries []Entry
	for _, metric := range in.profile.Metrics {
		if !registry.IsBilateral(metric) {
			entries = append(entries, scalar(metric))
			continue
		}
		for _, side := range []string{extraction.SideLeft, extraction.SideRight} {
			entries = append(entries, scalar(extraction.XRayMetricName(metric, side)))
		}
	}
	return entries
}
