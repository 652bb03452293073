// Package storage implements the pluggable sink set a spider writes parsed
// data, errors, and raw responses into.
//
// Grounded on original_source/src/storage/{base,types,manager}.rs for the
// Backend/Config/SinkSet shape, and on a Supabase Storage REST client for
// the remote sink (adapted into RemoteBackend below).
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// Config is a backend-specific write destination, produced once per
// registration and reused for every subsequent write (original_source's
// StorageConfig; each backend type-asserts it back to its own concrete
// config type).
type Config interface {
	// Destination is a human-readable description used in logs and errors.
	Destination() string
}

// Backend is the storage-sink contract: build a destination-scoped Config
// once, then serialize StorageItems against it.
type Backend interface {
	CreateConfig(destination string) (Config, error)
	StoreSerialized(ctx context.Context, item model.StorageItem[any], cfg Config) error
}

// SinkSet maps each storage category to the (Backend, Config) pair that
// serves it, with one designated fallback for unregistered categories.
// Registration normally happens once at spider setup; Register is guarded
// the same way reads are, so sinks can also be registered while the set is
// in use.
type SinkSet struct {
	mu      sync.RWMutex
	entries map[model.StorageCategory]sinkEntry
	fallback model.StorageCategory
}

type sinkEntry struct {
	backend Backend
	config  Config
}

// NewSinkSet builds an empty set whose fallback category is the data
// category, matching original_source's StorageManager default.
func NewSinkSet() *SinkSet {
	return &SinkSet{
		entries:  make(map[model.StorageCategory]sinkEntry),
		fallback: model.DataCategory(),
	}
}

// Register wires a backend to serve the given category at destination,
// building the backend's Config once up front.
func (s *SinkSet) Register(category model.StorageCategory, backend Backend, destination string) error {
	cfg, err := backend.CreateConfig(destination)
	if err != nil {
		return fmt.Errorf("storage: register %s: %w", category, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[category] = sinkEntry{backend: backend, config: cfg}
	return nil
}

// SetFallback changes which registered category serves writes aimed at an
// unregistered category.
func (s *SinkSet) SetFallback(category model.StorageCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = category
}

// Store writes item to the sink registered for category, falling back to
// the default sink when category has no registration of its own.
func (s *SinkSet) Store(ctx context.Context, item model.StorageItem[any], category model.StorageCategory) error {
	s.mu.RLock()
	entry, ok := s.entries[category]
	if !ok {
		entry, ok = s.entries[s.fallback]
	}
	s.mu.RUnlock()

	if !ok {
		return &model.StorageError{
			Kind: model.StorageErrOperation,
			Msg:  fmt.Sprintf("no backend registered for category %s (and no fallback)", category),
		}
	}

	return entry.backend.StoreSerialized(ctx, item, entry.config)
}
