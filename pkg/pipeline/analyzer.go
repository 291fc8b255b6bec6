// Package pipeline runs the measurement pipeline for whole studies:
// profile lookup, per-frame extraction, the sweep fold and report
// aggregation, optionally persisting each report.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"hipmetrics/internal/logger"
	"hipmetrics/internal/models"
	"hipmetrics/pkg/extraction"
	"hipmetrics/pkg/registry"
	"hipmetrics/pkg/report"
	"hipmetrics/pkg/sweep"
)

// ReportSink receives finished reports
type ReportSink interface {
	SaveReport(studyID string, r *report.Report) error
}

// Params holds the analysis configuration
type Params struct {
	// Registry resolves study keyphrases to metric profiles
	Registry *registry.Registry

	// Extractor computes per-frame metrics. A default extractor is used when nil.
	Extractor *extraction.Extractor

	// NumWorkers bounds how many studies AnalyzeAll processes at once.
	// Zero means one per CPU.
	NumWorkers int

	// Sink, when set, stores every report produced
	Sink ReportSink

	Log *logger.Logger
}

// Result is the outcome of analysing one study
type Result struct {
	StudyID string
	Report  *report.Report

	// Err is set when the study could not be analysed at all; Report is nil then
	Err error
}

// Analyzer turns studies into reports. It holds no per-study state, so
// one Analyzer may serve many studies concurrently.
type Analyzer struct {
	params *Params
	log    *logger.Logger

	mu    sync.RWMutex
	study report.StudyMetrics
}

// NewAnalyzer creates an analyzer with the provided parameters
func NewAnalyzer(params *Params) *Analyzer {
	p := *params
	if p.Log == nil {
		p.Log = logger.Nop()
	}
	if p.Extractor == nil {
		p.Extractor = extraction.NewExtractor(p.Log)
	}
	if p.Registry == nil {
		p.Registry = registry.DefaultRegistry()
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = runtime.NumCPU()
	}
	return &Analyzer{params: &p, log: p.Log, study: make(report.StudyMetrics)}
}

// RegisterStudyMetric adds a named study-level metric for ultrasound studies.
// Profiles that list the name report the function's value instead of a
// per-frame aggregate.
func (a *Analyzer) RegisterStudyMetric(name string, fn report.StudyMetric) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.study[name] = fn
}

func (a *Analyzer) studyMetrics() report.StudyMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(report.StudyMetrics, len(a.study))
	for name, fn := range a.study {
		out[name] = fn
	}
	return out
}

// Analyze runs the complete pipeline for one study. An unknown keyphrase
// or modality is an error and produces no report; every other failure is
// recorded inside the report.
func (a *Analyzer) Analyze(study models.Study) (*report.Report, error) {
	study.EnsureID()
	log := a.log.With("study", study.ID, "modality", study.Modality, "keyphrase", study.Keyphrase)

	modality, err := models.ParseModality(string(study.Modality))
	if err != nil {
		return nil, fmt.Errorf("study %s: %w", study.ID, err)
	}

	log.Debug("Step 1: resolving metric profile")
	profile, err := a.params.Registry.Resolve(study.Keyphrase)
	if err != nil {
		return nil, fmt.Errorf("study %s: %w", study.ID, err)
	}

	frames, err := orderFrames(study.Frames)
	if err != nil {
		return nil, fmt.Errorf("study %s: %w", study.ID, err)
	}
	if modality.IsUltrasound() && profile.SmoothApex {
		log.Debug("Step 2: smoothing apex track")
		frames = extraction.SmoothApex(frames, profile.Thresholds.ApexMaxPixelErr)
	}

	log.Debug("Step 3: extracting per-frame metrics", "frames", len(frames))
	metrics := make([]extraction.FrameMetrics, len(frames))
	for i, f := range frames {
		metrics[i] = a.params.Extractor.Extract(f, modality, profile)
		if modality.IsUltrasound() {
			extraction.Assess(f, &metrics[i], profile)
		}
	}
	if modality == models.Modality3DUS {
		dropOutsideWindow(metrics)
	}

	log.Debug("Step 4: folding sweep state")
	var dev sweep.DevMetrics
	var sweepErr error
	if modality.IsUltrasound() {
		inputs := make([]sweep.Input, len(frames))
		for i := range frames {
			inputs[i] = sweep.Input{Frame: frames[i], Metrics: metrics[i]}
		}
		state := sweep.Run(profile, inputs)
		dev, sweepErr = state.Dev, state.Err()
	} else {
		sweepErr = imageErr(frames)
	}
	if sweepErr != nil {
		log.Warn("sweep flagged critical", "error", sweepErr)
	}

	log.Debug("Step 5: aggregating report")
	byIndex := make(map[int]extraction.FrameMetrics, len(metrics))
	for _, fm := range metrics {
		byIndex[fm.Index] = fm
	}
	r, err := report.AggregateWith(modality, byIndex, dev, profile, sweepErr, a.studyMetrics())
	if err != nil {
		return nil, fmt.Errorf("study %s: %w", study.ID, err)
	}

	if a.params.Sink != nil {
		if err := a.params.Sink.SaveReport(study.ID, r); err != nil {
			return nil, fmt.Errorf("study %s: save report: %w", study.ID, err)
		}
	}

	log.Info("study analysed", "frames", len(frames), "critical", sweepErr != nil)
	return r, nil
}

// AnalyzeAll analyses studies concurrently, at most NumWorkers at a time.
// Studies are independent: a failing study is reported in its Result and
// does not stop the others. The returned error is only set when ctx ends
// before every study was analysed.
func (a *Analyzer) AnalyzeAll(ctx context.Context, studies []models.Study) ([]Result, error) {
	results := make([]Result, len(studies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.params.NumWorkers)

	for i := range studies {
		i := i
		study := studies[i]
		results[i].StudyID = study.EnsureID()

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := a.Analyze(study)
			if err != nil {
				a.log.Error("study failed", "study", study.ID, "error", err)
			}
			results[i].Report, results[i].Err = r, err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// orderFrames returns the frames sorted by acquisition index. Every frame
// must carry its own non-negative index.
func orderFrames(frames []models.Frame) ([]models.Frame, error) {
	out := append([]models.Frame(nil), frames...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	for i, f := range out {
		if f.Index < 0 {
			return nil, fmt.Errorf("negative frame index %d", f.Index)
		}
		if i > 0 && out[i-1].Index == f.Index {
			return nil, fmt.Errorf("duplicate frame index %d", f.Index)
		}
	}
	return out, nil
}

// imageErr flags a single-image study whose image is missing or was not segmented
func imageErr(frames []models.Frame) error {
	if len(frames) == 0 {
		return &sweep.SweepCriticalError{Reason: "study contains no image"}
	}
	for _, f := range frames {
		if f.Segmented && !f.Fatal {
			continue
		}
		reason := f.FailureReason
		switch {
		case reason != "":
		case f.Fatal:
			reason = "fatal failure on image"
		default:
			reason = "image not segmented"
		}
		return &sweep.SweepCriticalError{Reason: reason}
	}
	return nil
}

// dropOutsideWindow marks usable frames lying outside the sweep's best
// contiguous window as unusable
func dropOutsideWindow(metrics []extraction.FrameMetrics) {
	marked := make([]bool, len(metrics))
	for i, fm := range metrics {
		marked[i] = fm.Usable
	}
	keep := sweep.KeepWindow(marked)
	for i := range metrics {
		if marked[i] && !keep[i] {
			metrics[i].Usable = false
			metrics[i].Reason = sweep.ReasonOutsideWindow
		}
	}
}
