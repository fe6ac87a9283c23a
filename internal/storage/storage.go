// Package storage persists generated image bytes and hands back public
// URLs. The pipeline depends only on the ObjectStore interface; the
// filesystem implementation here is the default backend, serving files
// through the API's static file route.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Common errors returned by object stores.
var (
	ErrEmptyKey     = errors.New("object key cannot be empty")
	ErrEmptyPayload = errors.New("object payload cannot be empty")
)

// ObjectStore writes immutable binary artifacts and returns the public URL
// where the artifact can be fetched.
type ObjectStore interface {
	// Put stores the payload under the given key, overwriting any previous
	// object with the same key, and returns its public URL.
	Put(ctx context.Context, key string, payload []byte, contentType string) (string, error)
}

// FilesystemStore is an ObjectStore backed by a local directory. Keys map
// to file paths under the base directory; URLs are formed from the
// configured public base URL.
type FilesystemStore struct {
	baseDir string
	baseURL string
}

// NewFilesystemStore creates the base directory if needed and returns a
// store rooted there. baseURL is the externally visible prefix for stored
// objects, without a trailing slash.
func NewFilesystemStore(baseDir, baseURL string) (*FilesystemStore, error) {
	if baseDir == "" {
		return nil, errors.New("storage base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Put writes the payload to disk atomically (temp file then rename) and
// returns the object's public URL.
func (s *FilesystemStore) Put(_ context.Context, key string, payload []byte, _ string) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}

	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.baseDir, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}

	return s.baseURL + "/" + cleanKey, nil
}

// sanitizeKey normalizes a key to forward slashes and rejects anything that
// would escape the base directory.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrEmptyKey
	}

	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return clean, nil
}
