package claimcheck

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStore persists offloaded payloads as files under a root directory. Meant
// for single-node deployments and tests; multi-node deployments should use
// RedisStore or another shared backend.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store over
// it.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("baton claimcheck: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("baton claimcheck: create root %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Put writes data to a fresh file and returns its key.
func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	key := uuid.NewString()
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("baton claimcheck: write %s: %w", key, err)
	}
	return key, nil
}

// Get reads the file named by key.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("baton claimcheck: payload %s not found", key)
		}
		return nil, fmt.Errorf("baton claimcheck: read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the file named by key. An absent file is not an error.
func (s *FSStore) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("baton claimcheck: delete %s: %w", key, err)
	}
	return nil
}

// Health verifies the root directory is still accessible.
func (s *FSStore) Health(context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("baton claimcheck: root %s: %w", s.root, err)
	}
	return nil
}

// ListKeys returns the keys of all stored payloads.
func (s *FSStore) ListKeys(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("baton claimcheck: list %s: %w", s.root, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

// path validates the key and maps it inside the root. Keys are store-issued
// UUIDs, but the check keeps a corrupted or hostile reference from escaping
// the root.
func (s *FSStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("baton claimcheck: invalid key %q", key)
	}
	return filepath.Join(s.root, key), nil
}
