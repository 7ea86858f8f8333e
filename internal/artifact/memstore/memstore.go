// Package memstore provides an in-memory artifact.Store for development
// and tests.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/reliefnet/beacon/internal/artifact"
)

type object struct {
	data        []byte
	contentType string
}

// Store keeps artifacts in a map. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Stat(_ context.Context, ref string) (*artifact.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	return &artifact.Info{Ref: ref, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (s *Store) Open(_ context.Context, ref string) (io.ReadCloser, *artifact.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, nil, artifact.ErrNotFound
	}
	info := &artifact.Info{Ref: ref, Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (s *Store) Put(_ context.Context, ref string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", ref, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("artifact %s: size mismatch: declared %d, read %d", ref, size, len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = object{data: data, contentType: contentType}
	return nil
}
