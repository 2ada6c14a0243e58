package persistence

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

func TestDescribe_FieldOrderAndTypes(t *testing.T) {
	fields, err := Describe[*widget]()
	require.NoError(t, err)

	var names []string
	var types []SemanticType
	for _, f := range fields {
		names = append(names, f.Name)
		types = append(types, f.Type)
	}
	assert.Equal(t, []string{"creation_date", "metadata", "status", "title", "views", "tags", "niche"}, names)
	assert.Equal(t, []SemanticType{Text, Text, Text, Text, Integer, Structured, Text}, types)
}

func TestDescribe_Memoized(t *testing.T) {
	a, err := DescribeType(reflect.TypeFor[widget]())
	require.NoError(t, err)
	b, err := DescribeType(reflect.TypeFor[*widget]())
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	assert.Same(t, &a[0], &b[0])
}

func TestDescribe_Defaults(t *testing.T) {
	type withDefaults struct {
		Record
		Niche string         `db:"niche" default:"COMMON"`
		Limit int            `db:"limit_n" default:"7"`
		Ratio float64        `db:"ratio" default:"0.5"`
		On    bool           `db:"on_air" default:"true"`
		Tags  []string       `db:"tags" default:"[\"a\"]"`
		Meta  map[string]int `db:"meta"`
	}
	fields, err := DescribeType(reflect.TypeFor[withDefaults]())
	require.NoError(t, err)

	s, err := newSchema("WithDefaults", fields)
	require.NoError(t, err)

	niche, _ := s.Field("niche")
	assert.True(t, niche.HasDefault)
	assert.Equal(t, "COMMON", niche.Default())

	limit, _ := s.Field("limit_n")
	assert.Equal(t, 7, limit.Default())

	ratio, _ := s.Field("ratio")
	assert.Equal(t, 0.5, ratio.Default())

	on, _ := s.Field("on_air")
	assert.Equal(t, true, on.Default())

	tags, _ := s.Field("tags")
	first := tags.Default().([]string)
	first[0] = "mutated"
	assert.Equal(t, []string{"a"}, tags.Default(), "structured defaults must be fresh per use")

	meta, _ := s.Field("meta")
	assert.False(t, meta.HasDefault)
	assert.NotNil(t, meta.Default())
	assert.Empty(t, meta.Default())
}

func TestDescribe_Rejections(t *testing.T) {
	type unsupported struct {
		Record
		Ch chan int `db:"ch"`
	}
	type noRecord struct {
		Title string `db:"title"`
	}
	type reservedID struct {
		Record
		ID string `db:"id"`
	}
	type duplicate struct {
		Record
		A string `db:"name"`
		B string `db:"name"`
	}
	type badName struct {
		Record
		A string `db:"Bad-Name"`
	}
	type badDefault struct {
		Record
		N int `db:"n" default:"many"`
	}

	_, err := DescribeType(reflect.TypeFor[unsupported]())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnsupportedField))

	for name, typ := range map[string]reflect.Type{
		"no record":   reflect.TypeFor[noRecord](),
		"reserved id": reflect.TypeFor[reservedID](),
		"duplicate":   reflect.TypeFor[duplicate](),
		"bad name":    reflect.TypeFor[badName](),
		"bad default": reflect.TypeFor[badDefault](),
	} {
		_, err := DescribeType(typ)
		require.Error(t, err, name)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeConfigInvalid), name)
	}
}

func TestSemanticType_SQLType(t *testing.T) {
	assert.Equal(t, "TEXT", Text.SQLType())
	assert.Equal(t, "INTEGER", Integer.SQLType())
	assert.Equal(t, "DOUBLE PRECISION", Real.SQLType())
	assert.Equal(t, "BOOLEAN", Boolean.SQLType())
	assert.Equal(t, "JSONB", Structured.SQLType())
	assert.Equal(t, "structured", Structured.String())
}
