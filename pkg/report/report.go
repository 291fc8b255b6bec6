// Package report shapes per-frame metrics and sweep state into the final,
// modality specific study report and its JSON wire form.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"hipmetrics/internal/models"
	"hipmetrics/pkg/sweep"
)

// NotAvailable is the wire form of a tuple slot that could not be resolved
const NotAvailable = "N/A"

// Tuple slot names of a 3D ultrasound metric, in wire order
const (
	SlotPosterior = "posterior"
	SlotGraf      = "graf"
	SlotAnterior  = "anterior"
	SlotFull      = "full"

	// SlotValue names the only slot of a scalar metric
	SlotValue = "value"
)

var tupleSlots = []string{SlotPosterior, SlotGraf, SlotAnterior, SlotFull}

// Value is a reported metric value, either a number or N/A
type Value struct {
	Number float64
	NA     bool
}

// Num wraps a number
func Num(v float64) Value {
	return Value{Number: v}
}

// NA is the unresolved value
var NA = Value{NA: true}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.NA {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(v.Number)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != NotAvailable {
			return fmt.Errorf("unexpected metric value %q", s)
		}
		*v = NA
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("error decoding metric value: %w", err)
	}
	*v = Num(f)
	return nil
}

// Entry is one named metric. 3D ultrasound entries are 4-tuples, all
// others hold a single scalar.
type Entry struct {
	Name   string
	Values []Value
	Tuple  bool
}

// Scalar builds a single-valued entry
func Scalar(name string, v Value) Entry {
	return Entry{Name: name, Values: []Value{v}}
}

func (e Entry) MarshalJSON() ([]byte, error) {
	var payload any = e.Values
	if !e.Tuple {
		if len(e.Values) != 1 {
			return nil, fmt.Errorf("scalar metric %s has %d values", e.Name, len(e.Values))
		}
		payload = e.Values[0]
	}
	return json.Marshal(map[string]any{e.Name: payload})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("error decoding metric entry: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("metric entry must have exactly one key, got %d", len(m))
	}
	for name, raw := range m {
		e.Name = name
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '[' {
			e.Tuple = true
			return json.Unmarshal(raw, &e.Values)
		}
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("metric %s: %w", name, err)
		}
		e.Tuple = false
		e.Values = []Value{v}
	}
	return nil
}

// Report is the immutable per-study result. A new analysis run produces a
// new Report rather than changing an existing one.
type Report struct {
	Modality  models.Modality
	Keyphrase string
	Metrics   []Entry

	// Dev is nil for X-ray studies, which have no sweep
	Dev *sweep.DevMetrics

	RecordedError *string
}

// Metric looks up an entry by name
func (r *Report) Metric(name string) (Entry, bool) {
	for _, e := range r.Metrics {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Row is one flattened metric value, as stored by the report store
type Row struct {
	Name  string
	Slot  string
	Value Value
}

// Rows flattens the report metrics, tuple entries yielding one row per slot
func (r *Report) Rows() []Row {
	var rows []Row
	for _, e := range r.Metrics {
		if !e.Tuple {
			rows = append(rows, Row{Name: e.Name, Slot: SlotValue, Value: e.Values[0]})
			continue
		}
		for i, v := range e.Values {
			slot := fmt.Sprintf("slot%d", i)
			if i < len(tupleSlots) {
				slot = tupleSlots[i]
			}
			rows = append(rows, Row{Name: e.Name, Slot: slot, Value: v})
		}
	}
	return rows
}

type body struct {
	Metrics       []Entry         `json:"metrics"`
	DevMetrics    json.RawMessage `json:"dev_metrics"`
	RecordedError *string         `json:"recorded_error"`
	Keyphrase     string          `json:"keyphrase"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	dev := json.RawMessage(`{}`)
	if r.Dev != nil {
		raw, err := json.Marshal(r.Dev)
		if err != nil {
			return nil, fmt.Errorf("error encoding dev metrics: %w", err)
		}
		dev = raw
	}
	metrics := r.Metrics
	if metrics == nil {
		metrics = []Entry{}
	}
	return json.Marshal(map[string]body{
		string(r.Modality): {
			Metrics:       metrics,
			DevMetrics:    dev,
			RecordedError: r.RecordedError,
			Keyphrase:     r.Keyphrase,
		},
	})
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var wrapped map[string]body
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("error decoding report: %w", err)
	}
	if len(wrapped) != 1 {
		return fmt.Errorf("report must be keyed by exactly one modality, got %d keys", len(wrapped))
	}
	for key, b := range wrapped {
		modality, err := models.ParseModality(key)
		if err != nil {
			return err
		}
		*r = Report{
			Modality:      modality,
			Keyphrase:     b.Keyphrase,
			Metrics:       b.Metrics,
			RecordedError: b.RecordedError,
		}
		if modality != models.ModalityXRay {
			var dev sweep.DevMetrics
			if err := json.Unmarshal(b.DevMetrics, &dev); err != nil {
				return fmt.Errorf("error decoding dev metrics: %w", err)
			}
			r.Dev = &dev
		}
	}
	return nil
}

// Encode renders the report, indented when pretty is set
func Encode(r *Report, pretty bool) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if !pretty {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
