package report

import (
	"hipmetrics/internal/models"
	"hipmetrics/pkg/extraction"
	"hipmetrics/pkg/sweep"
)

// StudyMetric computes one study-level metric from the metrics of every frame
// and the finished sweep state. The returned extras are reported under the
// metric's name in the custom development metrics.
type StudyMetric func(frames map[int]extraction.FrameMetrics, dev sweep.DevMetrics) (float64, map[string]float64, error)

// StudyMetrics maps metric names to their study-level functions
type StudyMetrics map[string]StudyMetric

// applyStudyMetrics replaces the entries of custom ultrasound metrics. A 3D
// sweep reports the value in the full slot only; other modalities report a scalar.
func applyStudyMetrics(r *Report, in input, study StudyMetrics) {
	for i, e := range r.Metrics {
		fn, ok := study[e.Name]
		if !ok {
			continue
		}

		v := NA
		if !in.critical {
			frames := make(map[int]extraction.FrameMetrics, len(in.frames))
			for idx, fm := range in.frames {
				frames[idx] = fm
			}
			value, extra, err := fn(frames, in.dev.Clone())
			if err == nil {
				v = Num(value)
				if len(extra) > 0 {
					if r.Dev.Custom == nil {
						r.Dev.Custom = make(map[string]map[string]float64)
					}
					values := make(map[string]float64, len(extra))
					for k, x := range extra {
						values[k] = x
					}
					r.Dev.Custom[e.Name] = values
				}
			}
		}

		if r.Modality == models.Modality3DUS {
			r.Metrics[i] = Entry{Name: e.Name, Tuple: true, Values: []Value{NA, NA, NA, v}}
			continue
		}
		if v.NA {
			v = Num(Placeholder)
		}
		r.Metrics[i] = Scalar(e.Name, v)
	}
}
