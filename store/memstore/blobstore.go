package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemBlobStore is an in-memory store.BlobStore. Chunks are buffered per
// bodyID until Seal concatenates them in index order; this is adequate for
// tests and the cmd/yaakengine demo but not for production traffic volumes.
type MemBlobStore struct {
	mu     sync.Mutex
	chunks map[string]map[int][]byte
	sealed map[string][]byte
}

// NewBlobStore creates an empty MemBlobStore.
func NewBlobStore() *MemBlobStore {
	return &MemBlobStore{
		chunks: make(map[string]map[int][]byte),
		sealed: make(map[string][]byte),
	}
}

const maxChunkBytes = 1 << 20 // 1 MiB, per spec.md's blob-store contract

func (b *MemBlobStore) InsertChunk(_ context.Context, bodyID string, index int, chunk []byte) error {
	if len(chunk) > maxChunkBytes {
		return fmt.Errorf("memstore: blob %q chunk %d: %d bytes exceeds 1MiB limit", bodyID, index, len(chunk))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.chunks[bodyID]
	if !ok {
		m = make(map[int][]byte)
		b.chunks[bodyID] = m
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	m[index] = cp
	return nil
}

// Path returns a synthetic in-memory path identifying bodyID; it is not a
// real filesystem path but is stable and unique.
func (b *MemBlobStore) Path(_ context.Context, bodyID string) (string, error) {
	return "memstore://blob/" + bodyID, nil
}

func (b *MemBlobStore) Seal(_ context.Context, bodyID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.chunks[bodyID]
	indices := make([]int, 0, len(m))
	for idx := range m {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var out []byte
	for _, idx := range indices {
		out = append(out, m[idx]...)
	}
	b.sealed[bodyID] = out
	delete(b.chunks, bodyID)
	return int64(len(out)), nil
}

func (b *MemBlobStore) Delete(_ context.Context, bodyID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chunks, bodyID)
	delete(b.sealed, bodyID)
	return nil
}

// Read returns the sealed bytes for bodyID, primarily for test assertions.
func (b *MemBlobStore) Read(bodyID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.sealed[bodyID]
	return v, ok
}

// Size returns the current (possibly unsealed) byte count for bodyID.
func (b *MemBlobStore) Size(bodyID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.sealed[bodyID]; ok {
		return int64(len(v))
	}
	var n int64
	for _, c := range b.chunks[bodyID] {
		n += int64(len(c))
	}
	return n
}
