// Package schema defines the declared column layout of the rollout table
// and keeps the physical SQLite table synchronized with it.
//
// The package has three pieces: field declarations (Field, FieldType),
// an immutable Registry built from them once at process start, and the
// synchronizer (Sync) that creates the table or widens it with additive
// ALTER TABLE statements. Columns are never removed or retyped.
package schema

import (
	"regexp"

	"github.com/robodata/rolloutdb/pkg/rollouterrors"
)

// FieldType identifies the semantic type of a declared field.
type FieldType string

const (
	// FieldTypeString represents text values
	FieldTypeString FieldType = "string"
	// FieldTypeInt represents integer values
	FieldTypeInt FieldType = "int"
	// FieldTypeFloat represents floating point values
	FieldTypeFloat FieldType = "float"
	// FieldTypeBool represents boolean values
	FieldTypeBool FieldType = "bool"
	// FieldTypeTimestamp represents date/time values
	FieldTypeTimestamp FieldType = "timestamp"
	// FieldTypeUUID represents UUID values, stored as text
	FieldTypeUUID FieldType = "uuid"
)

// Field describes one declared column of the rollout table.
type Field struct {
	// Name is the flattened column name
	Name string
	// Type is the semantic field type
	Type FieldType
	// Optional marks fields that may be absent; storage type is unaffected
	Optional bool
	// Primary marks the identifier column
	Primary bool
}

// identifierPattern is the allowlist for every name interpolated into SQL.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to interpolate into a SQL
// statement as a table or column identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Registry is the declared schema for one record-type version: the table
// name plus the ordered field list. It is immutable after construction and
// passed by reference to every component that needs schema knowledge.
type Registry struct {
	table  string
	fields []Field
	byName map[string]int
}

// NewRegistry builds a Registry after validating every identifier and
// rejecting duplicate or conflicting declarations.
func NewRegistry(table string, fields []Field) (*Registry, error) {
	if !ValidIdentifier(table) {
		return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
			"invalid table identifier %q", table)
	}
	if len(fields) == 0 {
		return nil, rollouterrors.New(rollouterrors.ErrorTypeValidation,
			"schema requires at least one field")
	}

	byName := make(map[string]int, len(fields))
	primaries := 0
	for i, f := range fields {
		if !ValidIdentifier(f.Name) {
			return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"invalid column identifier %q", f.Name)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, rollouterrors.Newf(rollouterrors.ErrorTypeValidation,
				"duplicate column %q", f.Name)
		}
		if f.Primary {
			primaries++
		}
		byName[f.Name] = i
	}
	if primaries > 1 {
		return nil, rollouterrors.New(rollouterrors.ErrorTypeValidation,
			"schema declares more than one primary column")
	}

	owned := make([]Field, len(fields))
	copy(owned, fields)

	return &Registry{
		table:  table,
		fields: owned,
		byName: byName,
	}, nil
}

// MustNewRegistry is like NewRegistry but panics on invalid declarations.
// Intended for static field lists known correct at compile time.
func MustNewRegistry(table string, fields []Field) *Registry {
	reg, err := NewRegistry(table, fields)
	if err != nil {
		panic(err)
	}
	return reg
}

// Table returns the physical table name.
func (r *Registry) Table() string {
	return r.table
}

// Fields returns the declared fields in declaration order.
func (r *Registry) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Columns returns the declared column names in declaration order.
func (r *Registry) Columns() []string {
	cols := make([]string, len(r.fields))
	for i, f := range r.fields {
		cols[i] = f.Name
	}
	return cols
}

// Field looks up a declared field by column name.
func (r *Registry) Field(name string) (Field, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Field{}, false
	}
	return r.fields[i], true
}

// Contains reports whether name is a declared column.
func (r *Registry) Contains(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Len returns the number of declared fields.
func (r *Registry) Len() int {
	return len(r.fields)
}

// Primary returns the declared identifier field, if any.
func (r *Registry) Primary() (Field, bool) {
	for _, f := range r.fields {
		if f.Primary {
			return f, true
		}
	}
	return Field{}, false
}
