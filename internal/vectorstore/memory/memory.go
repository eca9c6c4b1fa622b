package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"courserag/internal/embedding"
	"courserag/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	points    map[string]vectorstore.Point
}

func NewStorage() *Storage {
	return &Storage{collections: make(map[string]*collection)}
}

func (s *Storage) Init(_ context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dimension != dimension {
			return fmt.Errorf("collection %s: %w (have %d, want %d)", name, vectorstore.ErrDimensionMismatch, c.dimension, dimension)
		}
		return nil
	}
	s.collections[name] = &collection{dimension: dimension, points: make(map[string]vectorstore.Point)}
	return nil
}

func (s *Storage) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return vectorstore.ErrDimensionMismatch
		}
	}
	for _, p := range points {
		c.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, name string, vector []float64, filter vectorstore.Filter, topK int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	hits := make([]vectorstore.Hit, 0, len(c.points))
	for _, p := range c.points {
		if !vectorstore.Matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, vectorstore.Hit{Point: clonePoint(p), Score: embedding.Cosine(p.Vector, vector)})
	}
	return vectorstore.Rank(hits, topK), nil
}

func (s *Storage) Scroll(_ context.Context, name string, filter vectorstore.Filter) ([]vectorstore.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	var out []vectorstore.Point
	for _, p := range c.points {
		if vectorstore.Matches(p.Payload, filter) {
			cp := clonePoint(p)
			cp.Vector = nil
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *Storage) Delete(_ context.Context, name string, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	for id, p := range c.points {
		if vectorstore.Matches(p.Payload, filter) {
			delete(c.points, id)
		}
	}
	return nil
}

func (s *Storage) Replace(_ context.Context, name string, filter vectorstore.Filter, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return vectorstore.ErrDimensionMismatch
		}
	}
	for id, p := range c.points {
		if vectorstore.Matches(p.Payload, filter) {
			delete(c.points, id)
		}
	}
	for _, p := range points {
		c.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (s *Storage) Clear(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		c.points = make(map[string]vectorstore.Point)
	}
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) get(name string) (*collection, error) {
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s not initialized", name)
	}
	return c, nil
}

// clonePoint copies the payload map so callers cannot mutate stored state.
// Vectors are never written after insertion and are shared.
func clonePoint(p vectorstore.Point) vectorstore.Point {
	payload := make(map[string]any, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}
	p.Payload = payload
	return p
}
