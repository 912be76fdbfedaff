package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNothingStaged is returned when a session has no uploaded dataset.
var ErrNothingStaged = errors.New("no dataset uploaded")

// StagingConfig bounds the staging store.
type StagingConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// StagedDataset is a cleaned upload waiting for column selection and
// training. Table is never mutated once staged.
type StagedDataset struct {
	Filename   string         `json:"filename"`
	Table      *Table         `json:"-"`
	Issues     []QualityIssue `json:"issues,omitempty"`
	UploadedAt time.Time      `json:"uploaded_at"`

	Features []string `json:"features,omitempty"`
	Target   string   `json:"target,omitempty"`
}

// Selected reports whether feature and target columns have been chosen.
func (d StagedDataset) Selected() bool {
	return len(d.Features) > 0 && d.Target != ""
}

// StagingStore keeps one pending dataset per session key. Entries expire
// after TTL and the least recently used ones are evicted past MaxEntries.
type StagingStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *StagedDataset]
}

// NewStagingStore creates a store, filling config defaults.
func NewStagingStore(config StagingConfig) *StagingStore {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1024
	}
	if config.TTL <= 0 {
		config.TTL = 2 * time.Hour
	}
	return &StagingStore{
		cache: expirable.NewLRU[string, *StagedDataset](config.MaxEntries, nil, config.TTL),
	}
}

// Stage replaces whatever key had staged, including any selection.
func (s *StagingStore) Stage(key string, ds StagedDataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds.UploadedAt.IsZero() {
		ds.UploadedAt = time.Now()
	}
	s.cache.Add(key, &ds)
}

// Get returns a copy of the staged dataset for key and restarts its TTL,
// so a dataset lives as long as the session that keeps using it.
func (s *StagingStore) Get(key string) (StagedDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.cache.Get(key)
	if !ok {
		return StagedDataset{}, ErrNothingStaged
	}
	s.cache.Add(key, ds)
	out := *ds
	out.Features = append([]string(nil), ds.Features...)
	return out, nil
}

// Select records the column selection for key's staged dataset.
func (s *StagingStore) Select(key string, features []string, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.cache.Get(key)
	if !ok {
		return ErrNothingStaged
	}
	next := *ds
	next.Features = append([]string(nil), features...)
	next.Target = target
	s.cache.Add(key, &next)
	return nil
}

// Drop forgets key's staged dataset.
func (s *StagingStore) Drop(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
}

// Len returns the number of live entries.
func (s *StagingStore) Len() int {
	return s.cache.Len()
}
