package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/report"
	"hipmetrics/pkg/sweep"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sweepReport(alpha float64) *report.Report {
	graf := 9
	return &report.Report{
		Modality:  models.Modality3DUS,
		Keyphrase: "default_US",
		Metrics: []report.Entry{
			{Name: "alpha", Tuple: true, Values: []report.Value{report.Num(63.56), report.Num(alpha), report.NA, report.Num(62.42)}},
			{Name: "coverage", Tuple: true, Values: []report.Value{report.Num(0.5), report.Num(0.61), report.Num(0.5), report.Num(0.61)}},
		},
		Dev: &sweep.DevMetrics{TotalFrames: 15, NoFramesSegmented: 12, NoFramesMarked: 10, GrafFrame: &graf, CRPoints: []int{}},
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	s := tempDB(t)
	id := uuid.New().String()
	want := sweepReport(69.3)

	if err := s.SaveReport(id, want); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.Report(id)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored report mismatch (-want +got):\n%s", diff)
	}
}

func TestMetrics(t *testing.T) {
	s := tempDB(t)
	id := uuid.New().String()
	if err := s.SaveReport(id, sweepReport(69.3)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	rows, err := s.Metrics(id)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	want := []report.Row{
		{Name: "alpha", Slot: report.SlotPosterior, Value: report.Num(63.56)},
		{Name: "alpha", Slot: report.SlotGraf, Value: report.Num(69.3)},
		{Name: "alpha", Slot: report.SlotAnterior, Value: report.NA},
		{Name: "alpha", Slot: report.SlotFull, Value: report.Num(62.42)},
		{Name: "coverage", Slot: report.SlotPosterior, Value: report.Num(0.5)},
		{Name: "coverage", Slot: report.SlotGraf, Value: report.Num(0.61)},
		{Name: "coverage", Slot: report.SlotAnterior, Value: report.Num(0.5)},
		{Name: "coverage", Slot: report.SlotFull, Value: report.Num(0.61)},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}

// TestSaveReportOverwrites checks that a new run replaces the stored report
func TestSaveReportOverwrites(t *testing.T) {
	s := tempDB(t)
	id := uuid.New().String()

	if err := s.SaveReport(id, sweepReport(69.3)); err != nil {
		t.Fatalf("first SaveReport: %v", err)
	}
	second := sweepReport(70.1)
	second.Metrics = second.Metrics[:1]
	if err := s.SaveReport(id, second); err != nil {
		t.Fatalf("second SaveReport: %v", err)
	}

	rows, err := s.Metrics(id)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows after overwrite, got %d", len(rows))
	}
	if rows[1].Value != report.Num(70.1) {
		t.Errorf("expected graf alpha 70.1, got %+v", rows[1].Value)
	}
}

func TestMissingStudy(t *testing.T) {
	s := tempDB(t)

	if _, err := s.Report("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Report: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Metrics("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Metrics: expected ErrNotFound, got %v", err)
	}
}

func TestStudiesByKeyphrase(t *testing.T) {
	s := tempDB(t)

	if err := s.SaveReport("study-a", sweepReport(69.3)); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	failed := sweepReport(0)
	msg := "critical sweep error: no graf frame could be determined"
	failed.RecordedError = &msg
	if err := s.SaveReport("study-b", failed); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	xray := &report.Report{
		Modality:  models.ModalityXRay,
		Keyphrase: "default_xray",
		Metrics:   []report.Entry{report.Scalar("ace_index_left", report.Num(28.1))},
	}
	if err := s.SaveReport("study-c", xray); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	refs, err := s.StudiesByKeyphrase("default_US")
	if err != nil {
		t.Fatalf("StudiesByKeyphrase: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 studies, got %d", len(refs))
	}

	byID := map[string]StudyRef{}
	for _, ref := range refs {
		byID[ref.ID] = ref
	}
	if byID["study-a"].Status != StatusComplete {
		t.Errorf("study-a: expected %s, got %s", StatusComplete, byID["study-a"].Status)
	}
	if byID["study-b"].Status != StatusError {
		t.Errorf("study-b: expected %s, got %s", StatusError, byID["study-b"].Status)
	}
	if got := byID["study-a"].URL; got != "http://localhost:8080/studies/study-a/report" {
		t.Errorf("unexpected URL %s", got)
	}

	none, err := s.StudiesByKeyphrase("unknown")
	if err != nil {
		t.Fatalf("StudiesByKeyphrase: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no studies, got %d", len(none))
	}
}

// TestStudiesByKeyphraseNewestFirst tests that listing order follows the
// analysis time down to sub-millisecond differences
func TestStudiesByKeyphraseNewestFirst(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2024, 3, 1, 10, 0, 5, 0, time.UTC)

	for _, save := range []struct {
		id string
		at time.Time
	}{
		{"older", base.Add(100 * time.Millisecond)},
		{"newest", base.Add(120 * time.Millisecond)},
		{"oldest", base},
	} {
		s.now = func() time.Time { return save.at }
		if err := s.SaveReport(save.id, sweepReport(69.3)); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}

	refs, err := s.StudiesByKeyphrase("default_US")
	if err != nil {
		t.Fatalf("StudiesByKeyphrase: %v", err)
	}
	var got []string
	for _, ref := range refs {
		got = append(got, ref.ID)
	}
	if diff := cmp.Diff([]string{"newest", "older", "oldest"}, got); diff != "" {
		t.Errorf("listing order mismatch (-want +got):\n%s", diff)
	}
}
