// Package meta provides the entity metadata model for ClaimBridge.
// The model describes which entities exist, their elements (with type,
// key, and virtual markers), which entities are draft-enabled, and the
// composition relationships between them. It is loaded once at startup
// from a YAML document and consumed read-only by every other layer.
package meta

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed model.yaml
var defaultModelYAML []byte

var (
	// ErrUnknownEntity indicates that the requested entity is not part of the model.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrMissingCompositionTarget indicates that a composition element names a
	// target entity that does not exist in the model.
	ErrMissingCompositionTarget = errors.New("missing composition target")
)

// ElementType classifies an entity element.
type ElementType string

// Element types understood by the schema generator and the mediation layer.
const (
	TypeUUID        ElementType = "uuid"
	TypeString      ElementType = "string"
	TypeInteger     ElementType = "integer"
	TypeDecimal     ElementType = "decimal"
	TypeBool        ElementType = "bool"
	TypeDate        ElementType = "date"
	TypeTimestamp   ElementType = "timestamp"
	TypeComposition ElementType = "composition"
	TypeAssociation ElementType = "association"
)

// Element describes a single element (column or relationship) of an entity.
type Element struct {
	// Name is the element name as it appears in tool payloads and rows.
	Name string `yaml:"name"`

	// Type is the element's type tag.
	Type ElementType `yaml:"type"`

	// Key marks the element as part of the entity's primary key.
	Key bool `yaml:"key,omitempty"`

	// Virtual marks framework-managed elements (IsActiveEntity, DraftUUID and
	// friends) that exist for draft control and are never legitimate
	// caller-supplied data.
	Virtual bool `yaml:"virtual,omitempty"`

	// Target names the target entity for composition and association elements.
	Target string `yaml:"target,omitempty"`

	// Default is an optional domain default applied when a new draft is created
	// without an explicit value for this element.
	Default interface{} `yaml:"default,omitempty"`
}

// Entity is a handle to one domain entity's metadata.
type Entity struct {
	// Name is the entity name (e.g. "Claims").
	Name string `yaml:"name"`

	// Draft reports whether the entity is draft-enabled, i.e. whether a shadow
	// draft table exists and the draft lifecycle verbs apply to it.
	Draft bool `yaml:"draft,omitempty"`

	// Elements lists the entity's elements in declaration order.
	Elements []Element `yaml:"elements"`

	index map[string]*Element
}

// Model holds the full entity model.
type Model struct {
	entities map[string]*Entity
	names    []string
}

type modelDoc struct {
	Entities []*Entity `yaml:"entities"`
}

// Load parses and validates a YAML model document.
func Load(data []byte) (*Model, error) {
	var doc modelDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("meta: failed to parse model: %w", err)
	}

	m := &Model{entities: make(map[string]*Entity, len(doc.Entities))}
	for _, e := range doc.Entities {
		if e.Name == "" {
			return nil, errors.New("meta: entity with empty name")
		}
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("meta: duplicate entity %q", e.Name)
		}
		e.index = make(map[string]*Element, len(e.Elements))
		for i := range e.Elements {
			el := &e.Elements[i]
			if el.Name == "" {
				return nil, fmt.Errorf("meta: entity %q has an element with empty name", e.Name)
			}
			e.index[el.Name] = el
		}
		if len(e.Keys()) == 0 {
			return nil, fmt.Errorf("meta: entity %q has no key elements", e.Name)
		}
		m.entities[e.Name] = e
		m.names = append(m.names, e.Name)
	}
	sort.Strings(m.names)

	// Composition and association targets must resolve within the model.
	for _, e := range m.entities {
		for i := range e.Elements {
			el := &e.Elements[i]
			if el.Type != TypeComposition && el.Type != TypeAssociation {
				continue
			}
			if el.Target == "" {
				return nil, fmt.Errorf("%w: %s.%s names no target entity", ErrMissingCompositionTarget, e.Name, el.Name)
			}
			if _, ok := m.entities[el.Target]; !ok {
				return nil, fmt.Errorf("%w: %s.%s targets unknown entity %q", ErrMissingCompositionTarget, e.Name, el.Name, el.Target)
			}
		}
	}

	return m, nil
}

// Default loads the embedded claims model. The embedded document ships with
// the binary, so a parse failure is a programming error and panics.
func Default() *Model {
	m, err := Load(defaultModelYAML)
	if err != nil {
		panic(fmt.Sprintf("meta: embedded model is invalid: %v", err))
	}
	return m
}

// Entity resolves an entity by name. The error message lists the known
// entities so a tool-calling agent can self-correct.
func (m *Model) Entity(name string) (*Entity, error) {
	if e, ok := m.entities[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q (known entities: %s)", ErrUnknownEntity, name, strings.Join(m.names, ", "))
}

// Names returns the sorted entity names in the model.
func (m *Model) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// CompositionTargets returns the set of entity names that appear as a
// composition target anywhere in the model. These entities live inside their
// parent's rows and get no tables of their own.
func (m *Model) CompositionTargets() map[string]bool {
	targets := make(map[string]bool)
	for _, e := range m.entities {
		for _, c := range e.Compositions() {
			targets[c.Target] = true
		}
	}
	return targets
}

// Element looks up an element by name.
func (e *Entity) Element(name string) (*Element, bool) {
	el, ok := e.index[name]
	return el, ok
}

// Has reports whether the entity declares an element with the given name.
func (e *Entity) Has(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Keys returns the names of the entity's primary-key elements in
// declaration order.
func (e *Entity) Keys() []string {
	var keys []string
	for _, el := range e.Elements {
		if el.Key {
			keys = append(keys, el.Name)
		}
	}
	return keys
}

// Compositions returns the entity's composition elements in declaration order.
func (e *Entity) Compositions() []*Element {
	var comps []*Element
	for i := range e.Elements {
		if e.Elements[i].Type == TypeComposition {
			comps = append(comps, &e.Elements[i])
		}
	}
	return comps
}

// Composition resolves a composition element by name. Associations do not
// qualify: only owned one-to-many substructures can be appended to.
func (e *Entity) Composition(name string) (*Element, bool) {
	el, ok := e.index[name]
	if !ok || el.Type != TypeComposition {
		return nil, false
	}
	return el, true
}

// Columns returns the names of all persistable elements for the base or
// draft variant of the entity. Associations are resolved via foreign-key
// elements and have no column of their own; compositions are serialized as a
// nested document column. Virtual draft-control elements other than
// IsActiveEntity exist only on the draft shadow table.
func (e *Entity) Columns(draft bool) []string {
	var cols []string
	for _, el := range e.Elements {
		if el.Type == TypeAssociation {
			continue
		}
		if el.Virtual && !draft && el.Name != "IsActiveEntity" {
			continue
		}
		cols = append(cols, el.Name)
	}
	return cols
}

// Defaults returns the declared domain defaults for elements that carry one.
func (e *Entity) Defaults() map[string]interface{} {
	defs := make(map[string]interface{})
	for _, el := range e.Elements {
		if el.Default != nil {
			defs[el.Name] = el.Default
		}
	}
	return defs
}

// AdminColumns returns the draft administrative metadata columns that
// actually exist on this entity, in a stable order. Callers fall back to
// DefaultAdminColumns when the entity declares none beyond the draft key.
func (e *Entity) AdminColumns() []string {
	var cols []string
	for _, name := range DefaultAdminColumns {
		if e.Has(name) {
			cols = append(cols, name)
		}
	}
	return cols
}

// DefaultAdminColumns is the fixed fallback column list for draft
// administrative data when an entity declares no admin elements of its own.
var DefaultAdminColumns = []string{"DraftUUID", "createdAt", "createdBy", "modifiedAt", "modifiedBy"}
