// Package registry holds the process-wide detector set. The set is fixed at
// startup; scans select subsets of it but never mutate it.
package registry

import (
	"fmt"
	"sort"

	"github.com/nexus-scanner/nexus/internal/core"
)

type registry struct {
	detectors map[string]core.Detector
	order     []string
}

// New builds an immutable registry from the given detectors. Duplicate names
// are a programming error and rejected.
func New(detectors ...core.Detector) (core.Registry, error) {
	r := &registry{detectors: make(map[string]core.Detector, len(detectors))}
	for _, d := range detectors {
		name := d.Name()
		if name == "" {
			return nil, fmt.Errorf("detector with empty name")
		}
		if _, exists := r.detectors[name]; exists {
			return nil, fmt.Errorf("duplicate detector %q", name)
		}
		r.detectors[name] = d
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r, nil
}

func (r *registry) Get(name string) (core.Detector, bool) {
	d, ok := r.detectors[name]
	return d, ok
}

func (r *registry) List() []core.Detector {
	out := make([]core.Detector, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.detectors[name])
	}
	return out
}

func (r *registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Select returns the detectors enabled for one scan. An empty selection
// means all registered detectors.
func Select(r core.Registry, enabled []string) ([]core.Detector, error) {
	if len(enabled) == 0 {
		return r.List(), nil
	}
	out := make([]core.Detector, 0, len(enabled))
	seen := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		if seen[name] {
			continue
		}
		seen[name] = true
		d, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown detector %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}
