package core

import "time"

// Record is one row as seen by callers.
// Fields never carries the implicit columns.
type Record struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt *time.Time
	Fields    map[string]any
}

// Get returns a field value, including the implicit ones.
func (r *Record) Get(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldCreatedAt:
		return r.CreatedAt, true
	case FieldUpdatedAt:
		if r.UpdatedAt == nil {
			return nil, true
		}
		return *r.UpdatedAt, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Values flattens the record into a map that includes the implicit fields.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldID] = r.ID
	out[FieldCreatedAt] = r.CreatedAt
	if r.UpdatedAt != nil {
		out[FieldUpdatedAt] = *r.UpdatedAt
	} else {
		out[FieldUpdatedAt] = nil
	}
	return out
}

// ChangeEvent is one row-level change reported by a backend.
type ChangeEvent struct {
	// Seq is the queue position for queue-backed feeds, zero for push feeds.
	Seq      int64
	Table    string
	Action   string
	RecordID string
}

// Change actions, matching the trigger operation names.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)
