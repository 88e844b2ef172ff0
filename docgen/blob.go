// blob.go - Rendered document storage.
//
// Documents are binary blobs referenced by path; the relational store
// holds only the path. FSBlobStore is the default, writing under a
// configured root directory.
package docgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// BlobStore stores rendered documents by path.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// FSBlobStore keeps blobs on the local filesystem under Root.
type FSBlobStore struct {
	Root string
}

func NewFSBlobStore(root string) *FSBlobStore {
	return &FSBlobStore{Root: root}
}

func (s *FSBlobStore) Put(_ context.Context, path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}
	// Write-then-rename so a crashed write never leaves a half document
	// at the recorded path.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return os.Rename(tmp, full)
}

func (s *FSBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

func (s *FSBlobStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid document path %q", path)
	}
	return filepath.Join(s.Root, clean), nil
}

// MemoryBlobStore holds blobs in a map. For tests. Safe for concurrent
// use; the coordinator writes from worker goroutines.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[path] = cp
	return nil
}

func (s *MemoryBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("no blob at %q", path)
	}
	return data, nil
}
