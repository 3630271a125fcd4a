// Package feed provides NEO candidate feeds backed by a YAML fixture file or
// an in-memory list. Both return candidates in file order.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/neodrop/internal/domain/model"
)

// Fixture is the document layout of a feed file. Quizzes seed the quiz bank.
type Fixture struct {
	Candidates []model.Candidate `yaml:"candidates"`
	Quizzes    []model.Quiz      `yaml:"quizzes"`
}

// Decode parses a fixture document. Unknown fields are rejected.
func Decode(data []byte) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}

// Load reads and parses the fixture at path.
func Load(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	return Decode(data)
}

// InWindow keeps the candidates with at least one approach in [start, end),
// preserving order.
func InWindow(cs []model.Candidate, start, end time.Time) []model.Candidate {
	out := make([]model.Candidate, 0, len(cs))
	for _, c := range cs {
		for _, a := range c.Approaches {
			if !a.At.Before(start) && a.At.Before(end) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// File reads the fixture on every fetch so edits are picked up without a restart.
type File struct {
	path string
}

// NewFile creates a feed over the fixture at path.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) FetchCandidates(ctx context.Context, start, end time.Time) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fx, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	return InWindow(fx.Candidates, start, end), nil
}

// Static serves a fixed candidate list.
type Static struct {
	mu         sync.RWMutex
	candidates []model.Candidate
	err        error
}

// NewStatic creates a feed over cs.
func NewStatic(cs ...model.Candidate) *Static {
	return &Static{candidates: cs}
}

// Set replaces the candidate list.
func (s *Static) Set(cs ...model.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = cs
}

// Fail makes every fetch return err until called with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) FetchCandidates(ctx context.Context, start, end time.Time) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return InWindow(s.candidates, start, end), nil
}
