package coordination

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ashureev/coordsim/internal/clock"
	"github.com/ashureev/coordsim/internal/domain"
)

// run is an active session and its pending timer. mu serializes every
// mutation of session, so a session never executes two steps at once.
type run struct {
	mu      sync.Mutex
	session *domain.Session
	timer   clock.Timer
	seq     uint64
}

func (r *run) snapshot() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

// registry is the guarded map of active sessions.
type registry struct {
	mu   sync.RWMutex
	runs map[string]*run
	seq  uint64
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*run)}
}

func (r *registry) insert(rn *run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := rn.session.ID
	if _, exists := r.runs[id]; exists {
		return fmt.Errorf("session %s already registered", id)
	}
	r.seq++
	rn.seq = r.seq
	r.runs[id] = rn
	return nil
}

func (r *registry) get(id string) (*run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rn, ok := r.runs[id]
	return rn, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// list returns active runs in start order.
func (r *registry) list() []*run {
	r.mu.RLock()
	out := make([]*run, 0, len(r.runs))
	for _, rn := range r.runs {
		out = append(out, rn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
