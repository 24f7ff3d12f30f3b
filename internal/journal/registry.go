package journal

import (
	"fmt"
	"sort"

	"FeedRater/internal/config"
	"FeedRater/internal/domain"
)

// Journal is one configured feed with its key.
type Journal struct {
	Key     string
	Mapping config.SourceMapping
}

// Registry keeps configured journals by key. It is read-only after construction.
type Registry struct {
	journals map[string]config.SourceMapping
	keys     []string
}

// NewRegistry builds a registry from configured source mappings.
func NewRegistry(mappings map[string]config.SourceMapping) *Registry {
	r := &Registry{journals: make(map[string]config.SourceMapping, len(mappings))}
	for key, m := range mappings {
		r.journals[key] = m
		r.keys = append(r.keys, key)
	}
	sort.Strings(r.keys)
	return r
}

// Resolve returns the journal stored under key or domain.ErrNotFound.
func (r *Registry) Resolve(key string) (Journal, error) {
	if m, ok := r.journals[key]; ok {
		return Journal{Key: key, Mapping: m}, nil
	}
	return Journal{}, fmt.Errorf("journal %s: %w", key, domain.ErrNotFound)
}

// All lists the journals ordered by key.
func (r *Registry) All() []Journal {
	out := make([]Journal, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, Journal{Key: key, Mapping: r.journals[key]})
	}
	return out
}

// Keys lists journal keys in order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}
