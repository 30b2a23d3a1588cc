package core

import (
	"fmt"
	"strings"
)

// Issue is one problem found while validating a field model.
type Issue struct {
	Table  string
	Field  string
	Reason string
}

func (i Issue) String() string {
	switch {
	case i.Table == "":
		return i.Reason
	case i.Field == "":
		return fmt.Sprintf("%s: %s", i.Table, i.Reason)
	default:
		return fmt.Sprintf("%s.%s: %s", i.Table, i.Field, i.Reason)
	}
}

// ConfigError reports every problem of a field model at once.
type ConfigError struct {
	Issues []Issue
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid field model: " + e.Issues[0].String()
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = "  - " + is.String()
	}
	return fmt.Sprintf("invalid field model (%d issues):\n%s", len(e.Issues), strings.Join(parts, "\n"))
}

// Add records an issue.
func (e *ConfigError) Add(table, field, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Table: table, Field: field, Reason: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it holds issues, nil otherwise.
func (e *ConfigError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// MigrationError is a failed schema change. The transaction was rolled back.
type MigrationError struct {
	Table string
	Step  string
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration of %q failed at %s: %v", e.Table, e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// DuplicateIDError is a unique constraint violation on write.
type DuplicateIDError struct {
	Table string
	ID    string
	Err   error
}

func (e *DuplicateIDError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("duplicate id in %q: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("duplicate id %q in %q", e.ID, e.Table)
}

func (e *DuplicateIDError) Unwrap() error { return e.Err }

// InvalidLinkedRecordError is a foreign key violation on write or delete.
type InvalidLinkedRecordError struct {
	Table string
	Err   error
}

func (e *InvalidLinkedRecordError) Error() string {
	return fmt.Sprintf("invalid linked record in %q: %v", e.Table, e.Err)
}

func (e *InvalidLinkedRecordError) Unwrap() error { return e.Err }

// TableAlreadyExistsError is returned by Create for an existing table.
type TableAlreadyExistsError struct {
	Table string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Table)
}

// ViewAlreadyExistsError is returned by Create for an existing view.
type ViewAlreadyExistsError struct {
	View string
}

func (e *ViewAlreadyExistsError) Error() string {
	return fmt.Sprintf("view %q already exists", e.View)
}

// UnsupportedOperatorError is a filter operator outside the supported set.
type UnsupportedOperatorError struct {
	Operator string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported filter operator %q", e.Operator)
}

// FieldNotFoundError names a field that does not exist on a table.
type FieldNotFoundError struct {
	Table string
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field %q not found on table %q", e.Field, e.Table)
}

// InvalidFieldTypeError is a field used where another type is required.
type InvalidFieldTypeError struct {
	Table string
	Field string
	Want  string
	Got   string
}

func (e *InvalidFieldTypeError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("field %q has unsupported type %q", e.Field, e.Got)
	}
	return fmt.Sprintf("field %q on table %q is %s, want %s", e.Field, e.Table, e.Got, e.Want)
}

// RecordNotFoundError is an id that does not resolve to a row.
type RecordNotFoundError struct {
	Table string
	ID    string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %q not found in %q", e.ID, e.Table)
}

// StorageError wraps any other backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
