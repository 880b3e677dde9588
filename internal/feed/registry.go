package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"schemasync/internal/storage"
	"schemasync/pkg/records"
)

// ErrNoFeed is returned when no Fetcher is registered for a source.
var ErrNoFeed = errors.New("no feed registered for source")

// Spec describes one source's feed in configuration.
type Spec struct {
	SourceID int    `yaml:"source_id"`
	Kind     string `yaml:"kind"` // csv | json | html
	Location string `yaml:"location"`
	// Selector applies to html feeds.
	Selector string `yaml:"selector"`
	// Comma applies to csv feeds; defaults to ",".
	Comma  string `yaml:"comma"`
	Fields Fields `yaml:"fields"`
}

// New builds the Fetcher a Spec describes.
func New(s Spec, l *Loader) (Fetcher, error) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case "csv":
		f := CSVFetcher{Location: s.Location, Fields: s.Fields, Loader: l}
		if c := []rune(s.Comma); len(c) == 1 {
			f.Comma = c[0]
		} else if len(c) > 1 {
			return nil, fmt.Errorf("feed %d: comma must be one character", s.SourceID)
		}
		return f, nil
	case "json":
		return JSONFetcher{Location: s.Location, Fields: s.Fields, Loader: l}, nil
	case "html":
		return HTMLFetcher{Location: s.Location, Selector: s.Selector, Fields: s.Fields, Loader: l}, nil
	default:
		return nil, fmt.Errorf("feed %d: unknown kind %q", s.SourceID, s.Kind)
	}
}

// Registry maps source IDs to Fetchers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[int]Fetcher
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[int]Fetcher)}
}

// FromSpecs builds a Registry from configuration.
func FromSpecs(specs []Spec, l *Loader) (*Registry, error) {
	r := NewRegistry()
	for _, s := range specs {
		f, err := New(s, l)
		if err != nil {
			return nil, err
		}
		r.Register(s.SourceID, f)
	}
	return r, nil
}

// Register binds f to a source, replacing any previous binding.
func (r *Registry) Register(sourceID int, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[sourceID] = f
}

// Fetch implements Fetcher by dispatching on src.ID.
func (r *Registry) Fetch(ctx context.Context, src storage.Source, since *time.Time) ([]records.SourceRow, error) {
	r.mu.RLock()
	f, ok := r.fetchers[src.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %d: %w", src.ID, ErrNoFeed)
	}
	return f.Fetch(ctx, src, since)
}
