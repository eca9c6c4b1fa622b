package memory

import (
	"container/list"
	"context"
	"sync"

	"courserag/internal/domain"
)

const (
	DefaultMaxMessages = 4
	DefaultMaxSessions = 1024
)

// Store keeps a fixed-size ring of messages per session id. When a ring
// is full the oldest message is overwritten. At most maxSessions sessions
// are kept; the least recently used one is dropped to make room.
type Store struct {
	mu          sync.Mutex
	max         int
	maxSessions int
	sessions    map[string]*list.Element
	lru         *list.List // front is most recently used
}

type ring struct {
	id    string
	buf   []domain.Message
	start int
	n     int
}

func NewStore(maxMessages int) *Store {
	return NewStoreWithLimit(maxMessages, DefaultMaxSessions)
}

// NewStoreWithLimit is NewStore with an explicit session cap.
func NewStoreWithLimit(maxMessages, maxSessions int) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Store{
		max:         maxMessages,
		maxSessions: maxSessions,
		sessions:    make(map[string]*list.Element),
		lru:         list.New(),
	}
}

func (s *Store) Append(_ context.Context, sessionID string, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r *ring
	if el, ok := s.sessions[sessionID]; ok {
		s.lru.MoveToFront(el)
		r = el.Value.(*ring)
	} else {
		for s.lru.Len() >= s.maxSessions {
			oldest := s.lru.Back()
			s.lru.Remove(oldest)
			delete(s.sessions, oldest.Value.(*ring).id)
		}
		r = &ring{id: sessionID, buf: make([]domain.Message, s.max)}
		s.sessions[sessionID] = s.lru.PushFront(r)
	}
	for _, m := range msgs {
		r.push(m)
	}
	return nil
}

// Recent returns the retained messages of a session, oldest first.
func (s *Store) Recent(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	s.lru.MoveToFront(el)
	r := el.Value.(*ring)
	out := make([]domain.Message, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out, nil
}

// Len reports how many sessions are retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *Store) Close() error { return nil }

func (r *ring) push(m domain.Message) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = m
		r.n++
		return
	}
	r.buf[r.start] = m
	r.start = (r.start + 1) % len(r.buf)
}
