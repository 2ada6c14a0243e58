package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	Record
	Title string   `db:"title"`
	Views int      `db:"views"`
	Tags  []string `db:"tags"`
	Niche string   `db:"niche" default:"COMMON"`
	// Untagged fields are not persisted.
	Draft string
}

func widgetSchema(t *testing.T) *Schema {
	t.Helper()
	fields, err := Describe[*widget]()
	require.NoError(t, err)
	s, err := newSchema("Widget", fields)
	require.NoError(t, err)
	return s
}
