package coordination

import (
	"sync"

	"github.com/ashureev/coordsim/internal/domain"
)

// DefaultHistoryLimit is the default number of finalized sessions kept in memory.
const DefaultHistoryLimit = 500

// history is a fixed-size ring of finalized session snapshots. When full,
// appending overwrites the oldest entry.
type history struct {
	mu    sync.RWMutex
	buf   []*domain.Session
	size  int
	head  int // next write position
	full  bool
	index map[string]*domain.Session
}

func newHistory(size int) *history {
	if size <= 0 {
		size = DefaultHistoryLimit
	}
	return &history{
		buf:   make([]*domain.Session, size),
		size:  size,
		index: make(map[string]*domain.Session, size),
	}
}

// append stores s, which must already be a private snapshot.
func (h *history) append(s *domain.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if evicted := h.buf[h.head]; evicted != nil {
		delete(h.index, evicted.ID)
	}
	h.buf[h.head] = s
	h.index[s.ID] = s
	h.head = (h.head + 1) % h.size
	if h.head == 0 {
		h.full = true
	}
}

func (h *history) get(id string) (*domain.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.index[id]
	return s, ok
}

func (h *history) contains(id string) bool {
	_, ok := h.get(id)
	return ok
}

// recent returns up to limit snapshots, newest first. limit <= 0 returns all.
func (h *history) recent(limit int) []*domain.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.Session, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.head - i + h.size) % h.size
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lenLocked()
}

func (h *history) lenLocked() int {
	if h.full {
		return h.size
	}
	return h.head
}
