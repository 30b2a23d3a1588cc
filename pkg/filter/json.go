package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type node struct {
	Field    string            `json:"field,omitempty"`
	Operator Operator          `json:"operator,omitempty"`
	Value    json.RawMessage   `json:"value,omitempty"`
	And      []json.RawMessage `json:"and,omitempty"`
	Or       []json.RawMessage `json:"or,omitempty"`
}

// Parse decodes the JSON form of a filter:
//
//	{"field": "title", "operator": "Contains", "value": "docs"}
//	{"and": [ ... ]}
//	{"or": [ ... ]}
//
// IsAnyOf takes an array value. OnOrAfter takes an RFC 3339 string.
func Parse(data []byte) (Filter, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode filter: %w", err)
	}
	return n.build()
}

func (n node) build() (Filter, error) {
	switch {
	case n.And != nil && n.Or != nil:
		return nil, errors.New("filter node has both and and or")
	case n.And != nil:
		children, err := buildAll(n.And)
		if err != nil {
			return nil, err
		}
		return And(children...), nil
	case n.Or != nil:
		children, err := buildAll(n.Or)
		if err != nil {
			return nil, err
		}
		return Or(children...), nil
	case n.Field == "":
		return nil, errors.New("filter condition is missing field")
	}

	switch n.Operator {
	case OpIsTrue, OpIsFalse:
		return Where(n.Field, n.Operator), nil
	case OpIsAnyOf:
		var vs []any
		if err := json.Unmarshal(n.Value, &vs); err != nil {
			return nil, fmt.Errorf("IsAnyOf on %q needs an array: %w", n.Field, err)
		}
		return Where(n.Field, n.Operator, vs...), nil
	case OpOnOrAfter:
		var s string
		if err := json.Unmarshal(n.Value, &s); err != nil {
			return nil, fmt.Errorf("OnOrAfter on %q needs a string: %w", n.Field, err)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("OnOrAfter on %q: %w", n.Field, err)
		}
		return OnOrAfter(n.Field, ts), nil
	default:
		var v any
		if len(n.Value) > 0 {
			if err := json.Unmarshal(n.Value, &v); err != nil {
				return nil, fmt.Errorf("failed to decode value of %q: %w", n.Field, err)
			}
		}
		return Where(n.Field, n.Operator, v), nil
	}
}

func buildAll(raws []json.RawMessage) ([]Filter, error) {
	out := make([]Filter, 0, len(raws))
	for i, raw := range raws {
		var n node
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		f, err := n.build()
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}
