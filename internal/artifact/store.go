// Package artifact stores rendered document files. The S3 backend
// targets MinIO locally and any S3-compatible endpoint elsewhere; a
// memory backend keeps the app usable with no object store configured.
package artifact

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("artifact: object not found")

// Store persists files grouped by document ID.
type Store interface {
	Put(ctx context.Context, docID, path string, content []byte) error
	Get(ctx context.Context, docID, path string) ([]byte, error)
	List(ctx context.Context, docID string) ([]string, error)
	// URL returns a time-limited download link when the backend supports
	// one, or an empty string.
	URL(ctx context.Context, docID, path string) (string, error)
}

// MemStore is the in-process fallback backend.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (m *MemStore) Put(_ context.Context, docID, path string, content []byte) error {
	key, err := objectKey(docID, path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), content...)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Get(_ context.Context, docID, path string) ([]byte, error) {
	key, err := objectKey(docID, path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	b, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemStore) List(_ context.Context, docID string) ([]string, error) {
	prefix := strings.TrimSpace(docID) + "/"
	m.mu.RLock()
	var paths []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, strings.TrimPrefix(key, prefix))
		}
	}
	m.mu.RUnlock()
	sort.Strings(paths)
	return paths, nil
}

func (m *MemStore) URL(context.Context, string, string) (string, error) { return "", nil }

func objectKey(docID, path string) (string, error) {
	docID = strings.TrimSpace(docID)
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if docID == "" {
		return "", errors.New("artifact: doc id is required")
	}
	if path == "" {
		return "", errors.New("artifact: path is required")
	}
	return docID + "/" + path, nil
}
