package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultModelID is the id the service trains into and predicts from.
const DefaultModelID = "latest"

const (
	artifactExt   = ".json"
	loadRetries   = 3
	loadRetryWait = 50 * time.Millisecond
)

var (
	// ErrInvalidModelID is returned for ids that are not safe file names.
	ErrInvalidModelID = errors.New("invalid model id")

	modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// ModelStore persists TrainedModels as one JSON artifact per id and keeps
// recently loaded models in an LRU cache. Cached models are shared and must
// be treated as read-only.
type ModelStore struct {
	dir    string
	cache  *lru.Cache[string, *TrainedModel]
	logger *zap.Logger
}

// NewModelStore creates dir if needed.
func NewModelStore(dir string, cacheSize int, logger *zap.Logger) (*ModelStore, error) {
	if dir == "" {
		return nil, errors.New("model dir is required")
	}
	if cacheSize <= 0 {
		cacheSize = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	cache, err := lru.New[string, *TrainedModel](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ModelStore{dir: dir, cache: cache, logger: logger}, nil
}

// Dir returns the artifact directory.
func (s *ModelStore) Dir() string { return s.dir }

// Path returns the artifact path for id.
func (s *ModelStore) Path(id string) (string, error) {
	if !modelIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidModelID, id)
	}
	return filepath.Join(s.dir, id+artifactExt), nil
}

// Save writes m atomically, replacing any previous artifact with the same id.
// Readers see either the old file or the new one, never a partial write.
func (s *ModelStore) Save(ctx context.Context, m *TrainedModel) error {
	if m == nil {
		return errors.New("model is nil")
	}
	if m.ID == "" {
		m.ID = DefaultModelID
	}
	path, err := s.Path(m.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+m.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}

	s.cache.Add(m.ID, m)
	s.logger.Info("model saved", zap.String("model_id", m.ID), zap.String("path", path))
	return nil
}

// Load returns the model saved under id, or ErrModelNotFound.
func (s *ModelStore) Load(ctx context.Context, id string) (*TrainedModel, error) {
	if m, ok := s.cache.Get(id); ok {
		return m, nil
	}
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < loadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(loadRetryWait):
			}
		}
		m, err := readArtifact(path)
		if err == nil {
			s.cache.Add(id, m)
			return m, nil
		}
		if errors.Is(err, ErrModelNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrModelNotFound, id)
		}
		// artifacts copied in by hand are not written atomically
		lastErr = err
	}
	return nil, fmt.Errorf("load model %q: %w", id, lastErr)
}

// Exists reports whether an artifact is present for id.
func (s *ModelStore) Exists(id string) bool {
	path, err := s.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Invalidate drops id from the cache.
func (s *ModelStore) Invalidate(id string) {
	s.cache.Remove(id)
}

// Watch invalidates cached models whose artifacts change on disk, for
// example when the offline trainer writes a new one. It blocks until ctx is
// done.
func (s *ModelStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("watching model dir", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, artifactExt) || strings.HasPrefix(name, ".") {
				continue
			}
			id := strings.TrimSuffix(name, artifactExt)
			s.Invalidate(id)
			s.logger.Debug("model artifact changed",
				zap.String("model_id", id),
				zap.String("op", event.Op.String()),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func readArtifact(path string) (*TrainedModel, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	var m TrainedModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(m.Weights) != len(m.Features) {
		return nil, fmt.Errorf("decode model: %d weights for %d features", len(m.Weights), len(m.Features))
	}
	return &m, nil
}
