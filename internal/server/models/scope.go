package models

import (
	"database/sql"
	"encoding/json"
)

// EveryLabel is how the wildcard scope is rendered in logs, job payloads
// and API messages.
const EveryLabel = "*"

// Scope is either a specific trial/upload-type identifier or the wildcard
// covering all of them. The zero value is the wildcard.
type Scope struct {
	value    string
	specific bool
}

// Every is the wildcard scope.
var Every = Scope{}

// Specific scopes to one identifier. An empty id yields Every.
func Specific(id string) Scope {
	if id == "" {
		return Every
	}
	return Scope{value: id, specific: true}
}

func (s Scope) IsEvery() bool { return !s.specific }

// Value returns the identifier and true for a specific scope.
func (s Scope) Value() (string, bool) { return s.value, s.specific }

// Is reports whether s is the specific scope id.
func (s Scope) Is(id string) bool { return s.specific && s.value == id }

func (s Scope) String() string {
	if !s.specific {
		return EveryLabel
	}
	return s.value
}

// NullString is the column encoding: NULL for Every.
func (s Scope) NullString() sql.NullString {
	return sql.NullString{String: s.value, Valid: s.specific}
}

// ScopeFromNull decodes a nullable column.
func ScopeFromNull(ns sql.NullString) Scope {
	if !ns.Valid {
		return Every
	}
	return Specific(ns.String)
}

// ParseScope reads the API rendering, where "" and "*" mean Every.
func ParseScope(s string) Scope {
	if s == "" || s == EveryLabel {
		return Every
	}
	return Specific(s)
}

func (s Scope) MarshalJSON() ([]byte, error) {
	if !s.specific {
		return []byte("null"), nil
	}
	return json.Marshal(s.value)
}

func (s *Scope) UnmarshalJSON(b []byte) error {
	var v *string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*s = Every
		return nil
	}
	*s = ParseScope(*v)
	return nil
}
