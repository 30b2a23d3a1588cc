package core

// FieldType is the semantic type tag of a field.
type FieldType string

// Field types understood by the engine.
const (
	TypeSingleLineText       FieldType = "SingleLineText"
	TypeLongText             FieldType = "LongText"
	TypeEmail                FieldType = "Email"
	TypeNumber               FieldType = "Number"
	TypeDateTime             FieldType = "DateTime"
	TypeCheckbox             FieldType = "Checkbox"
	TypeSingleSelect         FieldType = "SingleSelect"
	TypeSingleLinkedRecord   FieldType = "SingleLinkedRecord"
	TypeMultipleLinkedRecord FieldType = "MultipleLinkedRecord"
	TypeFormula              FieldType = "Formula"
	TypeRollup               FieldType = "Rollup"
)

// IsPrimitive reports whether values of this type fit a single scalar column.
// Only primitive types are valid outputs for formulas and rollups.
func (t FieldType) IsPrimitive() bool {
	switch t {
	case TypeSingleLineText, TypeLongText, TypeNumber, TypeDateTime, TypeCheckbox:
		return true
	default:
		return false
	}
}

// TypeClass is the backend-neutral SQL type family of a column.
type TypeClass string

// Type classes. Dialects map each class to a concrete SQL type.
const (
	ClassText      TypeClass = "text"
	ClassNumeric   TypeClass = "numeric"
	ClassTimestamp TypeClass = "timestamp"
	ClassBoolean   TypeClass = "boolean"
)

// ClassOf returns the type class used to store values of a primitive type.
func ClassOf(t FieldType) (TypeClass, bool) {
	switch t {
	case TypeSingleLineText, TypeLongText, TypeEmail, TypeSingleSelect,
		TypeSingleLinkedRecord, TypeMultipleLinkedRecord:
		return ClassText, true
	case TypeNumber:
		return ClassNumeric, true
	case TypeDateTime:
		return ClassTimestamp, true
	case TypeCheckbox:
		return ClassBoolean, true
	default:
		return "", false
	}
}

// Strategy is the single physical representation chosen for a field.
type Strategy int

const (
	// StrategyColumn stores the value in a column of the table.
	StrategyColumn Strategy = iota
	// StrategyForeignKey stores a linked id in a column with a foreign key.
	StrategyForeignKey
	// StrategyJoinTable stores links in a many-to-many join table.
	StrategyJoinTable
	// StrategyView computes the value in the table's view.
	StrategyView
)

// OnMigration carries migration hints for a field.
type OnMigration struct {
	// Replace is the previous column name when the field is renamed in place.
	Replace string `mapstructure:"replace"`
}

// Field is one named, typed attribute of a table.
//
// The set of implementations is closed: SingleLineText, LongText, Email,
// Number, DateTime, Checkbox, SingleSelect, SingleLinkedRecord,
// MultipleLinkedRecord, Formula and Rollup.
type Field interface {
	FieldName() string
	FieldType() FieldType
	IsRequired() bool
	DefaultValue() any
	Migration() OnMigration

	field()
}

// FieldBase holds the attributes shared by every field type.
type FieldBase struct {
	Name        string      `mapstructure:"name"`
	Required    bool        `mapstructure:"required"`
	Default     any         `mapstructure:"default"`
	OnMigration OnMigration `mapstructure:"onMigration"`
}

// FieldName returns the field name.
func (b FieldBase) FieldName() string { return b.Name }

// IsRequired reports whether the column is NOT NULL.
func (b FieldBase) IsRequired() bool { return b.Required }

// DefaultValue returns the literal default, or nil.
func (b FieldBase) DefaultValue() any { return b.Default }

// Migration returns the migration hints.
func (b FieldBase) Migration() OnMigration { return b.OnMigration }

func (FieldBase) field() {}

type (
	// SingleLineText is a short text value.
	SingleLineText struct {
		FieldBase `mapstructure:",squash"`
	}
	// LongText is a multi-line text value.
	LongText struct {
		FieldBase `mapstructure:",squash"`
	}
	// Email is a text value holding an email address.
	Email struct {
		FieldBase `mapstructure:",squash"`
	}
	// Number is a numeric value.
	Number struct {
		FieldBase `mapstructure:",squash"`
	}
	// DateTime is a timestamp.
	DateTime struct {
		FieldBase `mapstructure:",squash"`
	}
	// Checkbox is a boolean.
	Checkbox struct {
		FieldBase `mapstructure:",squash"`
	}
)

// SingleSelect is a text value restricted to a fixed option list.
type SingleSelect struct {
	FieldBase `mapstructure:",squash"`
	Options   []string `mapstructure:"options"`
}

// SingleLinkedRecord references one record of another table by id.
type SingleLinkedRecord struct {
	FieldBase `mapstructure:",squash"`
	Table     string `mapstructure:"table"`
}

// MultipleLinkedRecord references an ordered set of records of another table.
type MultipleLinkedRecord struct {
	FieldBase `mapstructure:",squash"`
	Table     string `mapstructure:"table"`
}

// Formula is computed from other fields of the same record.
type Formula struct {
	FieldBase `mapstructure:",squash"`
	Formula   string    `mapstructure:"formula"`
	Output    FieldType `mapstructure:"output"`
}

// Rollup aggregates LinkedField across the records linked by LinkedRecords.
// The formula sees the projected values as "values".
type Rollup struct {
	FieldBase     `mapstructure:",squash"`
	LinkedRecords string    `mapstructure:"linkedRecords"`
	LinkedField   string    `mapstructure:"linkedField"`
	Formula       string    `mapstructure:"formula"`
	Output        FieldType `mapstructure:"output"`
}

func (SingleLineText) FieldType() FieldType       { return TypeSingleLineText }
func (LongText) FieldType() FieldType             { return TypeLongText }
func (Email) FieldType() FieldType                { return TypeEmail }
func (Number) FieldType() FieldType               { return TypeNumber }
func (DateTime) FieldType() FieldType             { return TypeDateTime }
func (Checkbox) FieldType() FieldType             { return TypeCheckbox }
func (SingleSelect) FieldType() FieldType         { return TypeSingleSelect }
func (SingleLinkedRecord) FieldType() FieldType   { return TypeSingleLinkedRecord }
func (MultipleLinkedRecord) FieldType() FieldType { return TypeMultipleLinkedRecord }
func (Formula) FieldType() FieldType              { return TypeFormula }
func (Rollup) FieldType() FieldType               { return TypeRollup }

// StrategyOf returns the physical representation of a field.
func StrategyOf(f Field) (Strategy, error) {
	switch f.(type) {
	case SingleLineText, LongText, Email, Number, DateTime, Checkbox, SingleSelect:
		return StrategyColumn, nil
	case SingleLinkedRecord:
		return StrategyForeignKey, nil
	case MultipleLinkedRecord:
		return StrategyJoinTable, nil
	case Formula, Rollup:
		return StrategyView, nil
	default:
		return 0, &InvalidFieldTypeError{Field: f.FieldName(), Got: string(f.FieldType())}
	}
}

// OutputType returns the result type of a field. Computed fields report
// their declared output, all others their own type.
func OutputType(f Field) FieldType {
	switch v := f.(type) {
	case Formula:
		return v.Output
	case Rollup:
		return v.Output
	default:
		return f.FieldType()
	}
}

// IsStored reports whether the field's value is written by mutations.
func IsStored(f Field) bool {
	s, err := StrategyOf(f)
	return err == nil && s != StrategyView
}
