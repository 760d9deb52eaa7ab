package catalog

import (
	"errors"
	"fmt"
)

// Catalog is a read-only, versioned table of model descriptors.
// It is built once at startup and safe for concurrent use.
type Catalog struct {
	version string
	models  []Model
	byID    map[string]int
}

// New validates models and builds a Catalog.
func New(version string, models []Model) (*Catalog, error) {
	c := &Catalog{
		version: version,
		models:  make([]Model, 0, len(models)),
		byID:    make(map[string]int, len(models)),
	}
	for i := range models {
		m := models[i]
		if err := validate(&m); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", version, err)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate model id %q", version, m.ID)
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	return c, nil
}

func validate(m *Model) error {
	switch {
	case m.ID == "":
		return errors.New("model id is required")
	case m.Backend == "":
		return fmt.Errorf("model %s: backend is required", m.ID)
	case !m.PlanRequired.Valid():
		return fmt.Errorf("model %s: unknown plan %q", m.ID, m.PlanRequired)
	case m.ContextWindow <= 0:
		return fmt.Errorf("model %s: context window must be positive", m.ID)
	case m.CreditPerInputToken.IsNegative(), m.CreditPerOutputToken.IsNegative(),
		m.CostPerInputToken.IsNegative(), m.CostPerOutputToken.IsNegative():
		return fmt.Errorf("model %s: rates must be >= 0", m.ID)
	}
	return nil
}

// Version returns the catalog version label.
func (c *Catalog) Version() string { return c.version }

// Lookup returns the descriptor for id regardless of availability.
func (c *Catalog) Lookup(id string) (Model, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Model{}, false
	}
	return c.models[i], true
}

// Describe returns the descriptor for id. It fails with ErrModelNotFound
// for unknown ids and ErrModelUnavailable for disabled descriptors.
func (c *Catalog) Describe(id string) (Model, error) {
	m, ok := c.Lookup(id)
	if !ok {
		return Model{}, fmt.Errorf("describe %q: %w", id, ErrModelNotFound)
	}
	if !m.Available {
		return Model{}, fmt.Errorf("describe %q: %w", id, ErrModelUnavailable)
	}
	return m, nil
}

// ListForPlan returns the available models a plan may use, in catalog order.
func (c *Catalog) ListForPlan(p Plan) []Model {
	out := make([]Model, 0, len(c.models))
	for i := range c.models {
		m := c.models[i]
		if m.Available && p.Includes(m.PlanRequired) {
			out = append(out, m)
		}
	}
	return out
}

// InPlan reports whether model id is in ListForPlan(p).
func (c *Catalog) InPlan(id string, p Plan) bool {
	m, ok := c.Lookup(id)
	return ok && m.Available && p.Includes(m.PlanRequired)
}

// All returns every descriptor, including unavailable ones.
func (c *Catalog) All() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// BackendModelID translates a logical id into the identifier backend b
// expects. It is the only place logical ids are mapped.
func (c *Catalog) BackendModelID(id string, b Backend) (string, bool) {
	m, ok := c.Lookup(id)
	if !ok {
		return "", false
	}
	return m.ExternalID(b)
}

// ReachableBy returns the logical ids backend b can serve.
func (c *Catalog) ReachableBy(b Backend) []string {
	var ids []string
	for i := range c.models {
		if _, ok := c.models[i].ExternalID(b); ok {
			ids = append(ids, c.models[i].ID)
		}
	}
	return ids
}

// ExternalIDs returns the backend-side identifiers b can serve, the set an
// adapter uses for Supports.
func (c *Catalog) ExternalIDs(b Backend) []string {
	var ids []string
	for i := range c.models {
		if ext, ok := c.models[i].ExternalID(b); ok {
			ids = append(ids, ext)
		}
	}
	return ids
}
