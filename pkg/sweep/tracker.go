// Package sweep folds the frames of one ultrasound sweep, in acquisition
// order, into the sweep-level development metrics: frame counts, the graf
// frame, the acetabular and femoral mid-frames and the critical error flag.
//
// The tracker is an explicit reducer. Fold takes a State and one frame and
// returns the next State; nothing is shared between sweeps, so a fixed frame
// sequence always replays to the same result.
package sweep

import (
	"fmt"
	"sort"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/extraction"
	"hipmetrics/pkg/registry"
)

// SweepCriticalError signals that a sweep cannot yield a trustworthy frame
// selection. It is surfaced in the report and never retried.
type SweepCriticalError struct {
	Reason string
}

func (e *SweepCriticalError) Error() string {
	return "critical sweep error: " + e.Reason
}

// DevMetrics is the sweep state persisted with the report
type DevMetrics struct {
	TotalFrames        int            `json:"total_frames"`
	NoFramesSegmented  int            `json:"no_frames_segmented"`
	NoFramesMarked     int            `json:"no_frames_marked"`
	GrafFrame          *int           `json:"graf_frame"`
	AcetabularMidFrame int            `json:"acetabular_mid_frame"`
	FemMidFrame        int            `json:"fem_mid_frame"`
	CriticalError      bool           `json:"critical_error"`
	CRPoints           []int          `json:"cr_points"`
	OsIchiumDetected   bool           `json:"os_ichium_detected"`
	BadFrameReasons    map[int]string `json:"bad_frame_reasons,omitempty"`

	// Custom holds the extra values of study-level custom metrics, keyed by metric name
	Custom map[string]map[string]float64 `json:"dev_metrics_custom,omitempty"`
}

// Input is one frame handed to the tracker together with its extracted metrics
type Input struct {
	Frame   models.Frame
	Metrics extraction.FrameMetrics
}

// span tracks the first and last frame a landmark subset was seen on
type span struct {
	first, last int
	seen        bool
}

func (s span) add(i int) span {
	if !s.seen {
		return span{first: i, last: i, seen: true}
	}
	s.last = i
	return s
}

func (s span) mid() int {
	if !s.seen {
		return 0
	}
	return (s.first + s.last) / 2
}

// curvPoint is a usable frame's roof curvature, kept for extremum detection
type curvPoint struct {
	frame int
	value float64
}

// State is the accumulator value of a sweep fold
type State struct {
	Dev DevMetrics

	minMarkedFraction float64
	reason            string
	bestScore         float64
	ilium, femur      span
	curv              []curvPoint
	finished          bool
}

// New starts an empty sweep using the profile's minimum marked fraction
func New(profile *registry.MetricProfile) State {
	return State{
		Dev:               DevMetrics{CRPoints: []int{}},
		minMarkedFraction: profile.Thresholds.MinMarkedFraction,
	}
}

// Clone returns a deep copy of the metrics
func (d DevMetrics) Clone() DevMetrics {
	d.CRPoints = append([]int{}, d.CRPoints...)
	if d.GrafFrame != nil {
		g := *d.GrafFrame
		d.GrafFrame = &g
	}
	if d.BadFrameReasons != nil {
		reasons := make(map[int]string, len(d.BadFrameReasons))
		for k, v := range d.BadFrameReasons {
			reasons[k] = v
		}
		d.BadFrameReasons = reasons
	}
	if d.Custom != nil {
		custom := make(map[string]map[string]float64, len(d.Custom))
		for name, extra := range d.Custom {
			values := make(map[string]float64, len(extra))
			for k, v := range extra {
				values[k] = v
			}
			custom[name] = values
		}
		d.Custom = custom
	}
	return d
}

// clone copies the reference-typed fields so a folded state never aliases its predecessor
func (s State) clone() State {
	s.Dev = s.Dev.Clone()
	s.curv = append([]curvPoint(nil), s.curv...)
	return s
}

// Fold adds the next frame of the sweep. Frames must arrive in acquisition
// order. Folding into a finished state returns it unchanged.
func Fold(s State, in Input) State {
	if s.finished {
		return s
	}
	s = s.clone()
	idx := in.Frame.Index

	s.Dev.TotalFrames++
	if in.Frame.Segmented {
		s.Dev.NoFramesSegmented++
	}
	// a frame the segmenter rejected is never marked, whatever its metrics say
	usable := in.Metrics.Usable && in.Frame.Segmented
	if usable {
		s.Dev.NoFramesMarked++
	} else {
		if s.Dev.BadFrameReasons == nil {
			s.Dev.BadFrameReasons = make(map[int]string)
		}
		s.Dev.BadFrameReasons[idx] = badReason(in)
	}
	if in.Frame.Segmented && in.Frame.US != nil && in.Frame.US.OsIschium {
		s.Dev.OsIchiumDetected = true
	}

	if in.Frame.Fatal && !s.Dev.CriticalError {
		reason := in.Frame.FailureReason
		if reason == "" {
			reason = "unspecified"
		}
		s = s.raise(fmt.Sprintf("fatal failure on frame %d: %s", idx, reason))
	}

	// the clinical outcome is frozen once the sweep is in error
	if s.Dev.CriticalError || !usable {
		return s
	}

	if score := Representativeness(in); s.Dev.GrafFrame == nil || score >= s.bestScore {
		s.bestScore = score
		g := idx
		s.Dev.GrafFrame = &g
	}

	if in.Frame.US.HasIlium() {
		s.ilium = s.ilium.add(idx)
		s.Dev.AcetabularMidFrame = s.ilium.mid()
	}
	if in.Frame.US.HasFemoralHead() {
		s.femur = s.femur.add(idx)
		s.Dev.FemMidFrame = s.femur.mid()
	}

	if cv := in.Metrics.Get(registry.MetricCurvature); cv.Available {
		s.curv = append(s.curv, curvPoint{frame: idx, value: cv.Number})
		if n := len(s.curv); n >= 3 {
			a, b, c := s.curv[n-3].value, s.curv[n-2].value, s.curv[n-1].value
			if (b > a && b > c) || (b < a && b < c) {
				s.Dev.CRPoints = append(s.Dev.CRPoints, s.curv[n-2].frame)
			}
		}
	}
	return s
}

func badReason(in Input) string {
	switch {
	case !in.Frame.Segmented && in.Metrics.Reason == "":
		if in.Frame.FailureReason != "" {
			return in.Frame.FailureReason
		}
		return extraction.ReasonNotSegmented
	default:
		return in.Metrics.Reason
	}
}

// Finish closes the sweep, applying the end-of-sweep critical error rules.
// The returned state's DevMetrics must be treated as immutable.
func Finish(s State) State {
	if s.finished {
		return s
	}
	s = s.clone()

	if !s.Dev.CriticalError {
		switch {
		case s.Dev.TotalFrames == 0:
			s = s.raise("sweep contains no frames")
		case float64(s.Dev.NoFramesMarked) < s.minMarkedFraction*float64(s.Dev.TotalFrames):
			s = s.raise(fmt.Sprintf("too few usable frames: %d of %d marked, minimum fraction %.2f",
				s.Dev.NoFramesMarked, s.Dev.TotalFrames, s.minMarkedFraction))
		case s.Dev.GrafFrame == nil:
			s = s.raise("no graf frame could be determined")
		}
	}

	s.finished = true
	return s
}

// Run folds a complete sweep and finishes it
func Run(profile *registry.MetricProfile, inputs []Input) State {
	s := New(profile)
	for _, in := range inputs {
		s = Fold(s, in)
	}
	return Finish(s)
}

func (s State) raise(reason string) State {
	s.Dev.CriticalError = true
	s.reason = reason
	return s
}

// Err returns the sweep's critical error, or nil when the sweep is healthy
func (s State) Err() error {
	if !s.Dev.CriticalError {
		return nil
	}
	return &SweepCriticalError{Reason: s.reason}
}

// Finished reports whether Finish has been applied
func (s State) Finished() bool {
	return s.finished
}

// Representativeness scores how suitable a usable frame is as the graf
// frame: coverage weighted by rim completeness and segmentation confidence.
func Representativeness(in Input) float64 {
	score := 1.0
	if cov := in.Metrics.Get(registry.MetricCoverage); cov.Available {
		score = cov.Number
	}
	score *= rimCompleteness(in.Frame.US)
	if in.Frame.Confidence > 0 {
		score *= in.Frame.Confidence
	}
	return score
}

func rimCompleteness(lm *models.LandmarksUS) float64 {
	if lm == nil {
		return 0
	}
	present := 0
	for _, pt := range []*models.Point{lm.Left, lm.Apex, lm.Right} {
		if pt != nil {
			present++
		}
	}
	if len(lm.Roof) >= 3 {
		present++
	}
	return float64(present) / 4
}

// KeepWindow returns, for a full sweep, which marked frames lie inside the
// window of length equal to the number of marked frames that holds the most
// of them. Marked frames outside that window are treated as outliers.
func KeepWindow(marked []bool) []bool {
	total := 0
	for _, m := range marked {
		if m {
			total++
		}
	}

	keep := make([]bool, len(marked))
	if total == 0 {
		return keep
	}

	bestCount, bestStart := 0, 0
	for start := 0; start+total <= len(marked); start++ {
		count := 0
		for _, m := range marked[start : start+total] {
			if m {
				count++
			}
		}
		if count > bestCount {
			bestCount, bestStart = count, start
		}
	}

	for i := bestStart; i < bestStart+total; i++ {
		keep[i] = marked[i]
	}
	return keep
}

// ReasonOutsideWindow marks frames dropped by KeepWindow
const ReasonOutsideWindow = "Outside Sweep Window"

// SortedBadFrames lists the rejected frame indices in ascending order
func (d DevMetrics) SortedBadFrames() []int {
	idx := make([]int, 0, len(d.BadFrameReasons))
	for i := range d.BadFrameReasons {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
