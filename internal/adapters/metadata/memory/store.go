// Package memory is an in-process metadata blob store.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/okian/neodrop/internal/adapters/metadata"
)

type object struct {
	body        []byte
	contentType string
}

// Store keeps objects in a map.
type Store struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
}

// New creates a store whose URLs are baseURL/key. An empty baseURL yields
// mem:// URLs.
func New(baseURL string) *Store {
	if baseURL == "" {
		baseURL = "mem://metadata"
	}
	return &Store{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]object)}
}

func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", metadata.ErrEmptyKey
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	s.mu.Lock()
	s.objects[key] = object{body: cp, contentType: contentType}
	s.mu.Unlock()
	return s.baseURL + "/" + key, nil
}

// Get returns the stored body and content type.
func (s *Store) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return o.body, o.contentType, true
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ metadata.BlobStore = (*Store)(nil)
