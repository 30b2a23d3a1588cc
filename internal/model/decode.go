package model

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

type tableSpec struct {
	Name   string           `mapstructure:"name"`
	Fields []map[string]any `mapstructure:"fields"`
}

// Decode builds tables from their config form:
//
//	- name: tasks
//	  fields:
//	    - {name: title, type: SingleLineText, required: true}
//	    - {name: assignee, type: SingleLinkedRecord, table: people}
//
// Every decoding problem is collected into one *core.ConfigError.
// Decode does not validate the model; call Validate on the result.
func Decode(raw []map[string]any) ([]core.Table, error) {
	errs := &core.ConfigError{}
	tables := make([]core.Table, 0, len(raw))

	for i, r := range raw {
		var spec tableSpec
		if err := decodeInto(r, &spec); err != nil {
			errs.Add(fmt.Sprintf("tables[%d]", i), "", "%v", err)
			continue
		}
		t := core.Table{Name: spec.Name}
		for j, fr := range spec.Fields {
			f, err := DecodeField(fr)
			if err != nil {
				errs.Add(tableLabel(spec.Name, i), fieldLabel(fr, j), "%v", err)
				continue
			}
			t.Fields = append(t.Fields, f)
		}
		tables = append(tables, t)
	}

	if err := errs.OrNil(); err != nil {
		return nil, err
	}
	return tables, nil
}

// DecodeField builds one field variant, selected by the "type" key.
func DecodeField(raw map[string]any) (core.Field, error) {
	typ, _ := raw["type"].(string)
	if typ == "" {
		return nil, fmt.Errorf("field type is required")
	}
	body := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "type" {
			body[k] = v
		}
	}

	switch core.FieldType(typ) {
	case core.TypeSingleLineText:
		return decodeField[core.SingleLineText](body)
	case core.TypeLongText:
		return decodeField[core.LongText](body)
	case core.TypeEmail:
		return decodeField[core.Email](body)
	case core.TypeNumber:
		return decodeField[core.Number](body)
	case core.TypeDateTime:
		return decodeField[core.DateTime](body)
	case core.TypeCheckbox:
		return decodeField[core.Checkbox](body)
	case core.TypeSingleSelect:
		return decodeField[core.SingleSelect](body)
	case core.TypeSingleLinkedRecord:
		return decodeField[core.SingleLinkedRecord](body)
	case core.TypeMultipleLinkedRecord:
		return decodeField[core.MultipleLinkedRecord](body)
	case core.TypeFormula:
		return decodeField[core.Formula](body)
	case core.TypeRollup:
		return decodeField[core.Rollup](body)
	default:
		return nil, &core.InvalidFieldTypeError{Field: fmt.Sprint(raw["name"]), Got: typ}
	}
}

func decodeField[T core.Field](body map[string]any) (core.Field, error) {
	var f T
	if err := decodeInto(body, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeInto(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func tableLabel(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("tables[%d]", i)
	}
	return name
}

func fieldLabel(raw map[string]any, j int) string {
	if name, ok := raw["name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("fields[%d]", j)
}
