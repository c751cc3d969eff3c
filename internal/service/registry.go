package service

import (
	"errors"
	"fmt"
	"sync"

	"goldwatch/internal/fetcher"
)

// ErrUnknownSource is returned when a source id is not registered.
var ErrUnknownSource = errors.New("service: unknown source")

// Registry holds the ordered source list and the selection pointer.
type Registry struct {
	mu       sync.RWMutex
	sources  []fetcher.Source
	index    map[string]int
	selected int
}

// NewRegistry validates ids and selects selectedID, or the first source when empty.
func NewRegistry(sources []fetcher.Source, selectedID string) (*Registry, error) {
	if len(sources) == 0 {
		return nil, errors.New("service: at least one source is required")
	}

	index := make(map[string]int, len(sources))
	for i, src := range sources {
		id := src.ID()
		if id == "" {
			return nil, fmt.Errorf("service: source #%d has empty id", i)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("service: duplicate source id %q", id)
		}
		index[id] = i
	}

	r := &Registry{sources: append([]fetcher.Source(nil), sources...), index: index}
	if selectedID != "" {
		i, ok := index[selectedID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, selectedID)
		}
		r.selected = i
	}
	return r, nil
}

// Sources returns the sources in registration order.
func (r *Registry) Sources() []fetcher.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]fetcher.Source(nil), r.sources...)
}

// Lookup finds a source by id.
func (r *Registry) Lookup(id string) (fetcher.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.sources[i], true
}

// Selected returns the currently displayed source.
func (r *Registry) Selected() fetcher.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[r.selected]
}

// Next advances the selection cyclically and returns the new selection.
func (r *Registry) Next() fetcher.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = (r.selected + 1) % len(r.sources)
	return r.sources[r.selected]
}

// Select points the selection at id.
func (r *Registry) Select(id string) (fetcher.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	r.selected = i
	return r.sources[i], nil
}
