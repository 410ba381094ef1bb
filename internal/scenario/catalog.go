// Package scenario holds the immutable catalog of coordination scenarios.
package scenario

import (
	"errors"
	"fmt"

	"github.com/ashureev/coordsim/internal/domain"
)

// Catalog is a read-only registry of scenario definitions.
// It is populated once at construction and safe for concurrent reads.
type Catalog struct {
	order []string
	byID  map[string]domain.Scenario
}

// New builds a catalog from the given scenarios, preserving their order.
func New(scenarios ...domain.Scenario) (*Catalog, error) {
	c := &Catalog{
		order: make([]string, 0, len(scenarios)),
		byID:  make(map[string]domain.Scenario, len(scenarios)),
	}
	for _, sc := range scenarios {
		if err := validate(sc); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.ID, err)
		}
		if _, dup := c.byID[sc.ID]; dup {
			return nil, fmt.Errorf("scenario %q: duplicate id", sc.ID)
		}
		c.order = append(c.order, sc.ID)
		c.byID[sc.ID] = sc.Clone()
	}
	return c, nil
}

// Default returns the catalog of built-in scenarios.
func Default() *Catalog {
	c, err := New(builtin()...)
	if err != nil {
		panic("scenario: invalid built-in catalog: " + err.Error())
	}
	return c
}

// Get returns the scenario with the given id.
func (c *Catalog) Get(id string) (domain.Scenario, bool) {
	sc, ok := c.byID[id]
	if !ok {
		return domain.Scenario{}, false
	}
	return sc.Clone(), true
}

// List returns all scenarios in insertion order.
func (c *Catalog) List() []domain.Scenario {
	out := make([]domain.Scenario, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].Clone())
	}
	return out
}

// Len returns the number of scenarios.
func (c *Catalog) Len() int {
	return len(c.order)
}

func validate(sc domain.Scenario) error {
	if sc.ID == "" {
		return errors.New("empty id")
	}
	if len(sc.Steps) == 0 {
		return errors.New("no steps")
	}
	if len(sc.Participants) == 0 {
		return errors.New("no participants")
	}
	for _, r := range sc.Participants {
		if !r.Valid() {
			return fmt.Errorf("participant %q is not a known role", r)
		}
	}
	for i, st := range sc.Steps {
		if !st.Role.Valid() {
			return fmt.Errorf("step %d: unknown role %q", i, st.Role)
		}
		if st.Action == "" {
			return fmt.Errorf("step %d: empty action", i)
		}
	}
	return nil
}
