package core

import (
	"sort"
	"sync"
)

// Names of the implicit fields every table carries.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// IsImplicit reports whether name is reserved for an implicit field.
func IsImplicit(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// ImplicitFields returns the id, created_at and updated_at fields.
func ImplicitFields() []Field {
	return []Field{
		SingleLineText{FieldBase{Name: FieldID, Required: true}},
		DateTime{FieldBase{Name: FieldCreatedAt, Required: true}},
		DateTime{FieldBase{Name: FieldUpdatedAt}},
	}
}

// Table is a named, ordered list of fields.
// Relations to other tables are by name and resolve through a Registry.
type Table struct {
	Name   string
	Fields []Field
}

// AllFields returns the implicit fields followed by the declared ones.
func (t *Table) AllFields() []Field {
	out := ImplicitFields()
	return append(out, t.Fields...)
}

// Field looks up a declared or implicit field by name.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.AllFields() {
		if f.FieldName() == name {
			return f, true
		}
	}
	return nil, false
}

// Registry is the arena of tables keyed by name.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
}

// NewRegistry builds a registry holding copies of the given tables.
// Later duplicates replace earlier ones but keep the first position.
func NewRegistry(tables ...Table) *Registry {
	r := &Registry{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		r.Put(t)
	}
	return r
}

// Put adds or replaces a table.
func (r *Registry) Put(t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	tc := t
	tc.Fields = append([]Field(nil), t.Fields...)
	r.tables[t.Name] = &tc
}

// Table returns a table by name.
func (r *Registry) Table(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns all tables in registration order.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Table, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}

// Names returns the sorted table names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Referencing returns the tables that declare a MultipleLinkedRecord
// field pointing at name, together with that field.
func (r *Registry) Referencing(name string) []Link {
	var links []Link
	for _, t := range r.Tables() {
		for _, f := range t.Fields {
			if m, ok := f.(MultipleLinkedRecord); ok && m.Table == name {
				links = append(links, Link{Owner: t.Name, Field: m})
			}
		}
	}
	return links
}

// Link identifies a many-to-many field by its owning table.
type Link struct {
	Owner string
	Field MultipleLinkedRecord
}
