package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

// Violation is the kind of constraint a driver error reports.
type Violation int

const (
	// NoViolation is any error that is not a constraint violation.
	NoViolation Violation = iota
	// UniqueViolation is a primary key or unique constraint failure.
	UniqueViolation
	// ForeignKeyViolation is a foreign key constraint failure.
	ForeignKeyViolation
)

// ViolationFromMessage recognizes constraint failures by their message,
// for drivers without structured error codes.
func ViolationFromMessage(msg string) Violation {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "unique constraint"),
		strings.Contains(m, "primary key constraint"),
		strings.Contains(m, "duplicate key"):
		return UniqueViolation
	case strings.Contains(m, "foreign key"):
		return ForeignKeyViolation
	default:
		return NoViolation
	}
}

// Classify builds the typed error for a violation. Errors that are
// already typed, and context errors, pass through unchanged.
func Classify(op, table string, err error, v Violation) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch v {
	case UniqueViolation:
		return &core.DuplicateIDError{Table: table, Err: err}
	case ForeignKeyViolation:
		return &core.InvalidLinkedRecordError{Table: table, Err: err}
	default:
		return &core.StorageError{Op: op, Err: err}
	}
}

// IsClassified reports whether err already carries a typed core error.
func IsClassified(err error) bool {
	var (
		dup      *core.DuplicateIDError
		link     *core.InvalidLinkedRecordError
		storage  *core.StorageError
		notFound *core.RecordNotFoundError
		field    *core.FieldNotFoundError
		typ      *core.InvalidFieldTypeError
		migr     *core.MigrationError
		cfg      *core.ConfigError
	)
	return errors.As(err, &dup) || errors.As(err, &link) || errors.As(err, &storage) ||
		errors.As(err, &notFound) || errors.As(err, &field) || errors.As(err, &typ) ||
		errors.As(err, &migr) || errors.As(err, &cfg)
}

// Redact hides connection secrets in err's message while keeping the
// chain available to errors.As.
func Redact(err error, cfg core.AdapterConfig) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	redacted := msg
	for _, secret := range []string{cfg.DSN, cfg.Password} {
		if secret != "" {
			redacted = strings.ReplaceAll(redacted, secret, "[redacted]")
		}
	}
	if redacted == msg {
		return err
	}
	return &redactedError{msg: redacted, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
