// Package core defines the shared language of the leapbase engine.
//
// This package contains:
//   - The field model (Field and its variants, Table, Registry)
//   - Records and change events
//   - Configuration types (AdapterConfig, DialectConfig)
//   - The error taxonomy surfaced to callers
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
