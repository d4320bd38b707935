// Package cache memoizes expensive pipeline stages onto durable storage.
// Each cached result is one gob-encoded, snappy-compressed blob file
// keyed by a caller-supplied name plus an optional per-call
// discriminator. A stored blob is never validated against the code that
// produced it: re-running changed logic with override=false returns the
// stale artifact, so callers are expected to override after changing a
// stage.
package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

// ErrCorrupt is returned when a stored blob cannot be decoded. There is
// no automatic fallback to recomputation; the caller must pass
// override=true to rebuild the entry.
var ErrCorrupt = errors.New("corrupt cache entry")

// Store is a filesystem-backed blob store, one file per key. Concurrent
// writers against the same directory are not coordinated.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir. The directory is created on
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir, logger: slog.Default()}
}

// WithLogger sets a custom logger for the store.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Key builds the effective cache key from a stage name and an optional
// per-call discriminator.
func Key(name, discriminator string) string {
	if discriminator == "" {
		return name
	}
	return name + "_" + discriminator
}

// Path returns the blob file path for a key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key+".bin")
}

// Exists reports whether a blob is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// Remove deletes the blob stored under key, if any.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry %q: %w", key, err)
	}
	return nil
}

// write serializes value under key, creating the store directory on
// demand.
func (s *Store) write(key string, value any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	compressed := snappy.Encode(nil, buf.Bytes())
	if err := os.WriteFile(s.Path(key), compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}

	s.logger.Debug("cache entry written",
		slog.String("key", key),
		slog.Int("bytes", len(compressed)),
	)
	return nil
}

// read deserializes the blob stored under key into out.
func (s *Store) read(key string, out any) error {
	compressed, err := os.ReadFile(s.Path(key))
	if err != nil {
		return fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrCorrupt, key, err)
	}
	return nil
}

// With memoizes compute under key. When override is true, or no blob
// exists for the key, compute runs and its result is stored and
// returned. Otherwise the stored result is decoded and returned without
// re-running compute. Decode failures surface as ErrCorrupt.
func With[T any](s *Store, key string, override bool, compute func() (T, error)) (T, error) {
	var zero T

	if !override && s.Exists(key) {
		var cached T
		if err := s.read(key, &cached); err != nil {
			return zero, err
		}
		s.logger.Debug("cache hit", slog.String("key", key))
		return cached, nil
	}

	result, err := compute()
	if err != nil {
		return zero, err
	}

	if err := s.write(key, result); err != nil {
		return zero, err
	}
	return result, nil
}
