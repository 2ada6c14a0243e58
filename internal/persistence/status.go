package persistence

import "slices"

// Status is one value of an entity type's status enumeration.
type Status string

// String returns the status name.
func (s Status) String() string { return string(s) }

// StatusSet is the fixed, ordered enumeration of an entity type.
type StatusSet struct {
	values []Status
	def    Status
}

// NewStatusSet declares an enumeration. def is the value an empty status
// resolves to and must be one of values.
func NewStatusSet(def Status, values ...Status) StatusSet {
	if !slices.Contains(values, def) {
		values = append([]Status{def}, values...)
	}
	return StatusSet{values: values, def: def}
}

// Default returns the declared default.
func (s StatusSet) Default() Status { return s.def }

// Values returns the declared statuses in declaration order.
func (s StatusSet) Values() []Status { return slices.Clone(s.values) }

// Contains reports whether v is declared.
func (s StatusSet) Contains(v Status) bool { return slices.Contains(s.values, v) }

// Resolve maps the empty status to the default and reports whether the
// result is declared.
func (s StatusSet) Resolve(v Status) (Status, bool) {
	if v == "" {
		return s.def, s.def != ""
	}
	return v, s.Contains(v)
}

// Parse resolves a raw name, as read from storage or a request.
func (s StatusSet) Parse(name string) (Status, bool) {
	return s.Resolve(Status(name))
}
