package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
)

// Registry holds the current set of provider/model candidates. The
// candidate slice is swapped atomically on reload, so readers always see
// a complete, consistent generation and never block behind a reload.
type Registry struct {
	path    string
	current atomic.Pointer[generation]
	logger  *slog.Logger
}

// generation is one immutable snapshot of the registry contents.
type generation struct {
	candidates []Candidate
	byKey      map[string]*Candidate
}

// NewRegistry loads the registry file at path and returns a ready
// registry. The initial load must succeed; later reload failures keep
// the previous generation.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		logger: slog.Default().With("component", "registry"),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry builds a registry directly from candidates, without a
// backing file. Used by tests and embedded setups.
func NewStaticRegistry(candidates []Candidate) (*Registry, error) {
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}
	r := &Registry{
		logger: slog.Default().With("component", "registry"),
	}
	r.install(candidates)
	return r, nil
}

// Reload re-reads the registry file and atomically swaps in the new
// candidate set. On failure the previous generation stays active and the
// error is returned for the caller to surface.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}

	candidates, err := LoadCandidates(r.path)
	if err != nil {
		return err
	}

	r.install(candidates)
	r.logger.Info("registry loaded",
		"path", r.path,
		"candidates", len(candidates),
	)
	return nil
}

// install builds and swaps in a new generation.
func (r *Registry) install(candidates []Candidate) {
	// Deterministic iteration order for consumers that range over
	// Candidates (reproducible routing decisions).
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})

	byKey := make(map[string]*Candidate, len(sorted))
	for i := range sorted {
		byKey[sorted[i].Key()] = &sorted[i]
	}

	r.current.Store(&generation{candidates: sorted, byKey: byKey})
}

// Candidates returns the current candidate set, sorted by provider/model
// key. The returned slice must not be modified.
func (r *Registry) Candidates() []Candidate {
	return r.current.Load().candidates
}

// Lookup returns the candidate for the given provider and model, or nil
// if no such entry exists.
func (r *Registry) Lookup(provider, model string) *Candidate {
	return r.current.Load().byKey[provider+"/"+model]
}

// Len returns the number of registered candidates.
func (r *Registry) Len() int {
	return len(r.current.Load().candidates)
}
