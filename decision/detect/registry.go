// Package detect runs independent cost-driver detectors over a parsed query.
//
// Detectors are registered once at startup, then the registry is frozen.
// Every detector runs on every parsed request; a failing or panicking
// detector contributes no findings and never affects the others.
package detect

import (
	"context"
	"fmt"
	"sync"

	"github.com/santoshpalla27/taulayer/decision/caller"
	"github.com/santoshpalla27/taulayer/decision/finding"
	"github.com/santoshpalla27/taulayer/decision/query"
	"github.com/santoshpalla27/taulayer/pkg/errors"
)

// Detector inspects a query for one class of cost driver. Implementations
// must be safe for concurrent use and must not mutate their inputs.
// Detectors that block should stop when ctx is done.
type Detector interface {
	ID() string
	Detect(ctx context.Context, q *query.Query, c caller.Context) ([]finding.Finding, error)
}

// Registry collects detectors in registration order.
type Registry struct {
	mu        sync.Mutex
	detectors []Detector
	ids       map[string]bool
	frozen    bool
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]bool)}
}

// Register appends a detector. It fails after Build or on a duplicate id.
func (r *Registry) Register(d Detector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("detector registry is frozen; cannot register %s", d.ID())
	}
	if r.ids[d.ID()] {
		return fmt.Errorf("detector %s already registered", d.ID())
	}
	r.ids[d.ID()] = true
	r.detectors = append(r.detectors, d)
	return nil
}

// Build freezes the registry and returns the immutable detector set.
func (r *Registry) Build() *Set {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
	ds := make([]Detector, len(r.detectors))
	copy(ds, r.detectors)
	return &Set{detectors: ds}
}

// Set is a frozen, ordered list of detectors. It is safe to share.
type Set struct {
	detectors []Detector
}

func (s *Set) Len() int {
	return len(s.detectors)
}

// IDs returns detector ids in registration order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.detectors))
	for i, d := range s.detectors {
		ids[i] = d.ID()
	}
	return ids
}

// Result is the merged outcome of one run.
type Result struct {
	// Findings in registration order; within one detector, in emission order.
	Findings []finding.Finding
	Failures []*errors.AdvisorError
	// Ran is the number of detectors that completed without failure.
	Ran int
}

type slot struct {
	findings []finding.Finding
	err      error
}

// Run executes every detector concurrently and merges results in
// registration order. Each finding is stamped with its detector id and order.
func (s *Set) Run(ctx context.Context, q *query.Query, c caller.Context) Result {
	slots := make([]slot, len(s.detectors))

	var wg sync.WaitGroup
	for i, d := range s.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slots[i] = slot{err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := ctx.Err(); err != nil {
				slots[i] = slot{err: err}
				return
			}
			fs, err := d.Detect(ctx, q, c)
			slots[i] = slot{findings: fs, err: err}
		}(i, d)
	}
	wg.Wait()

	var res Result
	for i, sl := range slots {
		id := s.detectors[i].ID()
		if sl.err != nil {
			res.Failures = append(res.Failures, errors.NewDetectorFailure(id, sl.err))
			continue
		}
		res.Ran++
		for _, f := range sl.findings {
			f.Detector = id
			f.Order = i
			res.Findings = append(res.Findings, f)
		}
	}
	return res
}
