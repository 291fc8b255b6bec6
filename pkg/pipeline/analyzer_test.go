package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/extraction"
	"hipmetrics/pkg/registry"
	"hipmetrics/pkg/report"
	"hipmetrics/pkg/sweep"
)

func p(x, y float64) *models.Point { return &models.Point{X: x, Y: y} }

// usFrame is a usable ultrasound frame with alpha 63.43 and the given coverage
func usFrame(index int, coverage float64) models.Frame {
	var roof []models.Point
	for x := 100.0; x <= 130; x += 5 {
		roof = append(roof, models.Point{X: x, Y: 100 + (x-100)*(x-100)/50})
	}
	return models.Frame{
		Index:     index,
		Segmented: true,
		US: &models.LandmarksUS{
			Left:   p(0, 100),
			Apex:   p(100, 100),
			Right:  p(130, 160),
			PointD: p(150, 160),
			Pointd: p(150, 260),
			MidCov: p(150, 260-100*coverage),
			Roof:   roof,
		},
	}
}

// sweepStudy has an isolated usable frame 0, usable frames 4 to 11 and a
// best coverage on frame 8
func sweepStudy() models.Study {
	var frames []models.Frame
	for i := 13; i >= 0; i-- {
		switch {
		case i == 0 || (i >= 4 && i <= 11):
			cov := 0.5
			if i == 8 {
				cov = 0.6
			}
			frames = append(frames, usFrame(i, cov))
		default:
			frames = append(frames, models.Frame{Index: i})
		}
	}
	return models.Study{ID: "sweep-1", Modality: models.Modality3DUS, Keyphrase: "default_US", Frames: frames}
}

func xrayStudy() models.Study {
	rad := math.Pi / 180
	return models.Study{
		ID:        "xray-1",
		Modality:  models.ModalityXRay,
		Keyphrase: "default_xray",
		Frames: []models.Frame{{
			Segmented: true,
			XRay: &models.LandmarksXRay{
				Left:  models.XRaySide{Inner: p(300, 500), Outer: p(200, 500-100*math.Tan(28.1*rad))},
				Right: models.XRaySide{Inner: p(700, 500), Outer: p(800, 500-100*math.Tan(17.8*rad))},
			},
		}},
	}
}

type memorySink struct {
	mu      sync.Mutex
	reports map[string]*report.Report
}

func (m *memorySink) SaveReport(studyID string, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reports == nil {
		m.reports = make(map[string]*report.Report)
	}
	m.reports[studyID] = r
	return nil
}

func values(t *testing.T, r *report.Report, name string) []report.Value {
	t.Helper()
	e, ok := r.Metric(name)
	require.True(t, ok, "metric %s missing", name)
	return e.Values
}

func TestAnalyzeSweep(t *testing.T) {
	sink := &memorySink{}
	a := NewAnalyzer(&Params{Sink: sink})

	r, err := a.Analyze(sweepStudy())
	require.NoError(t, err)

	require.NotNil(t, r.Dev)
	assert.Nil(t, r.RecordedError)
	assert.False(t, r.Dev.CriticalError)
	assert.Equal(t, 14, r.Dev.TotalFrames)
	assert.Equal(t, 9, r.Dev.NoFramesSegmented)
	assert.Equal(t, 8, r.Dev.NoFramesMarked)
	require.NotNil(t, r.Dev.GrafFrame)
	assert.Equal(t, 8, *r.Dev.GrafFrame)
	assert.Equal(t, 7, r.Dev.AcetabularMidFrame)
	assert.Equal(t, sweep.ReasonOutsideWindow, r.Dev.BadFrameReasons[0])

	assert.Equal(t,
		[]report.Value{report.Num(63.43), report.Num(63.43), report.Num(63.43), report.Num(63.43)},
		values(t, r, registry.MetricAlpha))
	assert.Equal(t,
		[]report.Value{report.Num(0.5), report.Num(0.6), report.Num(0.5), report.Num(0.6)},
		values(t, r, registry.MetricCoverage))

	assert.Same(t, r, sink.reports["sweep-1"])
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := NewAnalyzer(&Params{})

	first, err := a.Analyze(sweepStudy())
	require.NoError(t, err)
	second, err := a.Analyze(sweepStudy())
	require.NoError(t, err)

	x, err := json.Marshal(first)
	require.NoError(t, err)
	y, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(x), string(y))
}

func TestAnalyzeUnknownKeyphrase(t *testing.T) {
	sink := &memorySink{}
	a := NewAnalyzer(&Params{Sink: sink})

	study := sweepStudy()
	study.Keyphrase = "knee_US"
	r, err := a.Analyze(study)

	assert.Nil(t, r)
	var notFound *registry.ProfileNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "knee_US", notFound.Keyphrase)
	assert.Empty(t, sink.reports)
}

func TestAnalyzeUnknownModality(t *testing.T) {
	study := sweepStudy()
	study.Modality = "ct"
	_, err := NewAnalyzer(&Params{}).Analyze(study)
	assert.Error(t, err)
}

func TestAnalyzeCriticalSweep(t *testing.T) {
	study := models.Study{
		ID:        "bad-sweep",
		Modality:  models.ModalityUSSweep,
		Keyphrase: "default_US",
		Frames:    []models.Frame{{Index: 0}, {Index: 1}, {Index: 2, Segmented: true}},
	}
	r, err := NewAnalyzer(&Params{}).Analyze(study)
	require.NoError(t, err)

	require.NotNil(t, r.RecordedError)
	assert.Contains(t, *r.RecordedError, "too few usable frames")
	assert.True(t, r.Dev.CriticalError)
	assert.Nil(t, r.Dev.GrafFrame)
	require.Len(t, r.Metrics, 3)
	for _, e := range r.Metrics {
		assert.Equal(t, []report.Value{report.Num(report.Placeholder)}, e.Values)
	}
}

func TestAnalyzeXRay(t *testing.T) {
	r, err := NewAnalyzer(&Params{}).Analyze(xrayStudy())
	require.NoError(t, err)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"xray": {
		"metrics": [
			{"ace_index_left": 28.1}, {"ace_index_right": 17.8},
			{"wiberg_index_left": 0}, {"wiberg_index_right": 0},
			{"ihdi_grade_left": 0}, {"ihdi_grade_right": 0},
			{"tonnis_grade_left": 2}, {"tonnis_grade_right": 2}
		],
		"dev_metrics": {},
		"recorded_error": null,
		"keyphrase": "default_xray"
	}}`, string(raw))
}

func TestAnalyzeXRayWithoutImage(t *testing.T) {
	study := xrayStudy()
	study.Frames = nil

	r, err := NewAnalyzer(&Params{}).Analyze(study)
	require.NoError(t, err)
	require.NotNil(t, r.RecordedError)
	assert.Equal(t, "critical sweep error: study contains no image", *r.RecordedError)
	assert.Len(t, r.Metrics, 8)
}

func TestAnalyzeXRaySegmentationFailure(t *testing.T) {
	tests := []struct {
		name  string
		frame models.Frame
		want  string
	}{
		{"fatal with reason", models.Frame{Segmented: false, FailureReason: "model failed", Fatal: true},
			"critical sweep error: model failed"},
		{"not segmented", models.Frame{Segmented: false}, "critical sweep error: image not segmented"},
		{"fatal but segmented", models.Frame{Segmented: true, Fatal: true, XRay: xrayStudy().Frames[0].XRay},
			"critical sweep error: fatal failure on image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memorySink{}
			study := xrayStudy()
			study.Frames = []models.Frame{tt.frame}

			r, err := NewAnalyzer(&Params{Sink: sink}).Analyze(study)
			require.NoError(t, err)
			require.NotNil(t, r.RecordedError)
			assert.Equal(t, tt.want, *r.RecordedError)

			require.Len(t, r.Metrics, 8)
			for _, e := range r.Metrics {
				assert.Equal(t, []report.Value{report.Num(report.Placeholder)}, e.Values, e.Name)
			}
			require.Contains(t, sink.reports, "xray-1")
			assert.NotNil(t, sink.reports["xray-1"].RecordedError)
		})
	}
}

func TestAnalyzeRejectsBadFrameIndices(t *testing.T) {
	unindexed := models.Study{ID: "no-index", Modality: models.Modality3DUS, Keyphrase: "default_US"}
	for i := 0; i < 10; i++ {
		unindexed.Frames = append(unindexed.Frames, usFrame(0, 0.39))
	}

	negative := sweepStudy()
	negative.Frames[0].Index = -1

	for name, study := range map[string]models.Study{"duplicate": unindexed, "negative": negative} {
		t.Run(name, func(t *testing.T) {
			sink := &memorySink{}
			r, err := NewAnalyzer(&Params{Sink: sink}).Analyze(study)
			assert.Nil(t, r)
			assert.Error(t, err)
			assert.Empty(t, sink.reports)
		})
	}

	_, err := NewAnalyzer(&Params{}).Analyze(unindexed)
	assert.EqualError(t, err, "study no-index: duplicate frame index 0")
}

func TestAnalyzeStudyMetric(t *testing.T) {
	prof, err := registry.DefaultRegistry().Resolve("default_US")
	require.NoError(t, err)
	prof.Name = "custom_US"
	prof.Metrics = append(prof.Metrics, "simple count", "constant answer")

	reg := registry.DefaultRegistry()
	require.NoError(t, reg.Register(prof))

	a := NewAnalyzer(&Params{Registry: reg})
	a.RegisterStudyMetric("simple count", func(frames map[int]extraction.FrameMetrics, dev sweep.DevMetrics) (float64, map[string]float64, error) {
		return float64(len(frames)), map[string]float64{"marked": float64(dev.NoFramesMarked)}, nil
	})
	a.RegisterStudyMetric("constant answer", func(map[int]extraction.FrameMetrics, sweep.DevMetrics) (float64, map[string]float64, error) {
		return 42, nil, nil
	})

	study := sweepStudy()
	study.Keyphrase = "custom_US"
	r, err := a.Analyze(study)
	require.NoError(t, err)
	require.Nil(t, r.RecordedError)

	assert.Equal(t, []report.Value{report.NA, report.NA, report.NA, report.Num(14)}, values(t, r, "simple count"))
	assert.Equal(t, []report.Value{report.NA, report.NA, report.NA, report.Num(42)}, values(t, r, "constant answer"))
	assert.Equal(t, map[string]map[string]float64{"simple count": {"marked": 8}}, r.Dev.Custom)

	study.Modality = models.Modality2DUS
	r, err = a.Analyze(study)
	require.NoError(t, err)
	assert.Equal(t, []report.Value{report.Num(42)}, values(t, r, "constant answer"))
}

func TestAnalyzeAll(t *testing.T) {
	sink := &memorySink{}
	a := NewAnalyzer(&Params{NumWorkers: 2, Sink: sink})

	unknown := sweepStudy()
	unknown.ID = "unknown"
	unknown.Keyphrase = "nope"

	anonymous := xrayStudy()
	anonymous.ID = ""

	studies := []models.Study{sweepStudy(), xrayStudy(), unknown, anonymous}
	results, err := a.AnalyzeAll(context.Background(), studies)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "sweep-1", results[0].StudyID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, models.Modality3DUS, results[0].Report.Modality)

	assert.Equal(t, "xray-1", results[1].StudyID)
	assert.NoError(t, results[1].Err)

	assert.Nil(t, results[2].Report)
	var notFound *registry.ProfileNotFoundError
	assert.True(t, errors.As(results[2].Err, &notFound))

	assert.NotEmpty(t, results[3].StudyID)
	assert.NoError(t, results[3].Err)

	assert.Len(t, sink.reports, 3)
	assert.Contains(t, sink.reports, results[3].StudyID)
}

func TestAnalyzeAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewAnalyzer(&Params{NumWorkers: 1}).AnalyzeAll(ctx, []models.Study{sweepStudy()})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Report)
}
