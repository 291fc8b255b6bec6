// Package extraction turns one frame's landmarks into the metrics that are
// valid at frame granularity. Every metric is computed on its own: a metric
// whose geometry fails is recorded as unavailable and its siblings are kept.
package extraction

import "sort"

// Value is a metric value that may be unavailable
type Value struct {
	Number    float64
	Available bool
}

// Of wraps a computed number
func Of(v float64) Value {
	return Value{Number: v, Available: true}
}

// Unavailable marks a metric that could not be computed
var Unavailable = Value{}

// FrameMetrics holds the metrics of one frame together with its quality verdict
type FrameMetrics struct {
	Index  int
	Values map[string]Value

	// Usable is false when the frame must not contribute to frame selection
	Usable bool

	// Reason explains why a frame is not usable
	Reason string

	// Errors records the geometry failure behind each unavailable metric
	Errors map[string]string
}

func newFrameMetrics(index int) FrameMetrics {
	return FrameMetrics{
		Index:  index,
		Values: make(map[string]Value),
		Errors: make(map[string]string),
	}
}

// Get returns the value of a metric, Unavailable when it was never computed
func (m FrameMetrics) Get(name string) Value {
	if v, ok := m.Values[name]; ok {
		return v
	}
	return Unavailable
}

// Names lists the metric names present on the frame in sorted order
func (m FrameMetrics) Names() []string {
	names := make([]string, 0, len(m.Values))
	for name := range m.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnyNonZero reports whether at least one metric has a non-zero value
func (m FrameMetrics) AnyNonZero() bool {
	for _, v := range m.Values {
		if v.Available && v.Number != 0 {
			return true
		}
	}
	return false
}

func (m *FrameMetrics) set(name string, v float64, err error) {
	if err != nil {
		m.Values[name] = Unavailable
		m.Errors[name] = err.Error()
		return
	}
	m.Values[name] = Of(v)
}
