package dispatch

import (
	"github.com/ashureev/coordsim/internal/domain"
)

// Handler produces the effect of one step. Returning an error fails the
// session.
type Handler func(s *domain.Session, step domain.Step) (Effect, error)

// Table is a two-level (role, action) handler lookup.
// It is built once and read concurrently afterwards.
type Table struct {
	handlers map[domain.Role]map[string]Handler
}

// Option configures a Table.
type Option func(*Table)

// WithHandler registers h for the (role, action) pair, replacing any existing
// handler.
func WithHandler(role domain.Role, action string, h Handler) Option {
	return func(t *Table) {
		t.set(role, action, h)
	}
}

// WithoutDefaults drops the built-in handlers. Options after it still apply.
func WithoutDefaults() Option {
	return func(t *Table) {
		t.handlers = make(map[domain.Role]map[string]Handler)
	}
}

// New returns a table preloaded with the built-in handlers.
func New(opts ...Option) *Table {
	t := &Table{handlers: make(map[domain.Role]map[string]Handler)}
	for _, e := range builtinHandlers() {
		t.set(e.role, e.action, e.handler)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) set(role domain.Role, action string, h Handler) {
	byAction, ok := t.handlers[role]
	if !ok {
		byAction = make(map[string]Handler)
		t.handlers[role] = byAction
	}
	byAction[action] = h
}

// Dispatch resolves step to an effect. Unknown pairs resolve to Unhandled
// with a nil error.
func (t *Table) Dispatch(s *domain.Session, step domain.Step) (Effect, error) {
	byAction, ok := t.handlers[step.Role]
	if !ok {
		return Unhandled{Step: step}, nil
	}
	h, ok := byAction[step.Action]
	if !ok {
		return Unhandled{Step: step}, nil
	}
	return h(s, step)
}

// Handles reports whether a handler exists for the pair.
func (t *Table) Handles(role domain.Role, action string) bool {
	_, ok := t.handlers[role][action]
	return ok
}
