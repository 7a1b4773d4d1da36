package blueprint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/resolver"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
)

// Store holds the active blueprint. Loads are atomic: a document is either
// accepted in full, replacing the current blueprint and bumping the
// version, or rejected, leaving the current blueprint active.
type Store struct {
	mu        sync.RWMutex
	current   *Blueprint
	version   uint64
	lastErr   error
	listeners []func(*Blueprint)

	logger  *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewStore creates an empty blueprint store.
func NewStore(logger *logging.Logger) *Store {
	return &Store{
		logger: logging.OrNop(logger).Named("blueprint"),
		now:    time.Now,
	}
}

// WithMetrics sets the metrics collector
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// WithClock overrides the load timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load parses and validates data and, on success, makes it the current
// blueprint. On failure the previous blueprint stays active and the error
// is kept for LastError.
func (s *Store) Load(data []byte, format Format) (*Blueprint, error) {
	parsed, err := Parse(data, format)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	s.mu.Lock()
	s.version++
	bp := parsed.withVersion(s.version, s.now())
	s.current = bp
	s.lastErr = nil
	listeners := append([]func(*Blueprint){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("Blueprint loaded",
		zap.Uint64("version", bp.Version),
		zap.Int("templates", len(bp.Templates)),
		zap.String("digest", bp.Digest[:12]),
	)
	s.metrics.RecordBlueprintLoad(true, bp.Version, len(bp.Templates))

	for _, fn := range listeners {
		fn(bp)
	}
	return bp, nil
}

// LoadFile loads a blueprint document from disk, choosing the format by
// extension.
func (s *Store) LoadFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrNoFile, path)
		} else {
			err = fmt.Errorf("read blueprint: %w", err)
		}
		s.reject(err)
		return nil, err
	}
	return s.Load(data, FormatFromPath(path))
}

// EnsureFile loads path, first writing the sample blueprint there if the
// file does not exist.
func (s *Store) EnsureFile(path string) (*Blueprint, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := WriteSample(path); err != nil {
			return nil, err
		}
		s.logger.Info("Created sample blueprint", zap.String("path", path))
	}
	return s.LoadFile(path)
}

// Current returns the active blueprint, if any.
func (s *Store) Current() (*Blueprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Version returns the version of the active blueprint (0 when none).
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetVersionFloor makes the next accepted blueprint's version exceed v.
// Used when restoring persisted schedules that reference older versions.
func (s *Store) SetVersionFloor(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.version {
		s.version = v
	}
}

// LastError returns the error of the most recent rejected load, cleared
// by the next successful one.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnChange registers fn to run after every accepted load.
func (s *Store) OnChange(fn func(*Blueprint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) reject(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Warn("Blueprint rejected", zap.String("kind", ErrorKind(err)), zap.Error(err))
	s.metrics.RecordBlueprintLoad(false, 0, 0)
}

// ErrorKind classifies a load error for logs and API responses.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, resolver.ErrCyclicDependency):
		return "cyclic_dependency"
	case errors.Is(err, ErrRatioSum):
		return "ratio_sum"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrNoFile):
		return "missing_file"
	default:
		return "io"
	}
}

// WriteSample writes the sample blueprint to path in the format implied by
// its extension.
func WriteSample(path string) error {
	data, err := Encode(Sample(), FormatFromPath(path))
	if err != nil {
		return fmt.Errorf("encode sample blueprint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blueprint dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sample blueprint: %w", err)
	}
	return nil
}
