// Package cas talks to an OCI distribution registry used as a
// content-addressed blob store for packaged libraries.
package cas

import (
	"context"
	"sync"

	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// Media types attached to pushed blobs.
const (
	MediaTypeLibrary = "application/vnd.crossbuild.library.v1"
	MediaTypeSymbols = "application/vnd.crossbuild.symbols.v1"
	MediaTypePackage = "application/vnd.crossbuild.package.v1.tar"
)

// MediaType maps an artifact type to the media type it is pushed with.
func MediaType(t artifact.Type) string {
	switch t {
	case artifact.SymbolsType:
		return MediaTypeSymbols
	case artifact.PackageType:
		return MediaTypePackage
	default:
		return MediaTypeLibrary
	}
}

// Store answers whether a blob is already present.
type Store interface {
	Has(ctx context.Context, id artifact.ID) (bool, error)
}

// BlobPusher uploads a blob and returns its URL.
type BlobPusher interface {
	Push(ctx context.Context, id artifact.ID, content []byte, mediaType string) (string, error)
}

// NullStore always reports a miss.
type NullStore struct{}

func (NullStore) Has(_ context.Context, _ artifact.ID) (bool, error) { return false, nil }

// MemoryStore is a thread-safe in-memory registry for tests.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string][]byte
	pushes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Has(_ context.Context, id artifact.ID) (bool, error) {
	m.mu.RLock()
	_, ok := m.items[id.Digest]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStore) Push(_ context.Context, id artifact.ID, content []byte, _ string) (string, error) {
	m.mu.Lock()
	m.items[id.Digest] = append([]byte(nil), content...)
	m.pushes++
	m.mu.Unlock()
	return "mem://" + id.Digest, nil
}

// Pushes counts uploads.
func (m *MemoryStore) Pushes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pushes
}
