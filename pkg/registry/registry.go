package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProfileNotFoundError is returned when no profile is registered for a
// keyphrase. It is a configuration error and must not be retried.
type ProfileNotFoundError struct {
	Keyphrase string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("no metric profile registered for keyphrase %q", e.Keyphrase)
}

// Registry holds the profiles known to the process. It is filled at start-up
// and only read afterwards.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*MetricProfile
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]*MetricProfile)}
}

// Register validates a profile and stores it under its name, replacing any
// profile of the same name.
func (r *Registry) Register(p *MetricProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p.Clone()
	return nil
}

// Resolve returns a copy of the profile registered for keyphrase
func (r *Registry) Resolve(keyphrase string) (*MetricProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[keyphrase]
	if !ok {
		return nil, &ProfileNotFoundError{Keyphrase: keyphrase}
	}
	return p.Clone(), nil
}

// Keyphrases lists the registered keyphrases in sorted order
func (r *Registry) Keyphrases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry pre-loaded with the built-in profiles
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, p := range BuiltinProfiles() {
		if err := reg.Register(p); err != nil {
			panic(fmt.Sprintf("built-in profile %s: %v", p.Name, err))
		}
	}
	return reg
}

// BuiltinProfiles returns the profiles every installation ships with
func BuiltinProfiles() []*MetricProfile {
	us := &MetricProfile{
		Name:    "default_US",
		Version: 1,
		Metrics: []string{MetricAlpha, MetricCoverage, MetricCurvature},
		Full: map[string]Aggregation{
			MetricAlpha:     AggregateMean,
			MetricCoverage:  AggregateMax,
			MetricCurvature: AggregateMean,
		},
		Thresholds:     DefaultThresholds(),
		PosteriorFirst: true,
	}

	testUS := us.Clone()
	testUS.Name = "test_default_US"
	testUS.SmoothApex = true
	testUS.AllowIrregularIlium = true

	xray := &MetricProfile{
		Name:       "default_xray",
		Version:    1,
		Metrics:    []string{MetricAceIndex, MetricWiberg, MetricIHDI, MetricTonnis},
		Thresholds: DefaultThresholds(),
	}

	return []*MetricProfile{us, testUS, xray}
}

// profileFile is the on-disk layout of a profile table
type profileFile struct {
	Version  int              `yaml:"version"`
	Profiles []*MetricProfile `yaml:"profiles"`
}

// LoadProfiles reads a versioned YAML profile table. Thresholds missing from
// a profile fall back to DefaultThresholds; thresholds present in the file are
// taken as written, zero included.
func LoadProfiles(path string) ([]*MetricProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading profile file: %w", err)
	}

	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing profile file: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported profile file version %d", f.Version)
	}

	for i, p := range f.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile entry %d is empty", i)
		}
	}
	return f.Profiles, nil
}

// UnmarshalYAML decodes a profile on top of the default thresholds
func (p *MetricProfile) UnmarshalYAML(value *yaml.Node) error {
	type plain MetricProfile
	raw := plain{Thresholds: DefaultThresholds()}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = MetricProfile(raw)
	return nil
}

// LoadFile registers every profile of a YAML profile table
func (r *Registry) LoadFile(path string) error {
	profiles, err := LoadProfiles(path)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := r.Register(p); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
