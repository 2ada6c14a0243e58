package persistence

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"sync"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// SemanticType is the storage category of a persisted field.
type SemanticType int

// Semantic types and their column types.
const (
	Text       SemanticType = iota + 1 // TEXT
	Integer                            // INTEGER
	Real                               // DOUBLE PRECISION
	Boolean                            // BOOLEAN
	Structured                         // JSONB, canonical JSON text
)

func (t SemanticType) String() string {
	switch t {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Boolean:
		return "boolean"
	case Structured:
		return "structured"
	default:
		return "unknown"
	}
}

// SQLType returns the column type used in generated DDL.
func (t SemanticType) SQLType() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "DOUBLE PRECISION"
	case Boolean:
		return "BOOLEAN"
	case Structured:
		return "JSONB"
	default:
		return "TEXT"
	}
}

type fieldKind int

const (
	kindValue fieldKind = iota
	kindCreationDate
	kindMetadata
	kindStatus
)

// Field describes one persisted column other than id.
type Field struct {
	Name string
	Type SemanticType
	// HasDefault is true when the struct field declares a default tag.
	HasDefault bool

	kind    fieldKind
	index   []int
	goType  reflect.Type
	def     reflect.Value // scalar default
	defJSON []byte        // structured default, decoded afresh per use
}

// Default returns a fresh copy of the field's default value.
func (f Field) Default() any {
	return f.zero().Interface()
}

func (f Field) zero() reflect.Value {
	switch f.kind {
	case kindCreationDate, kindMetadata:
		return reflect.ValueOf("")
	case kindStatus:
		return reflect.ValueOf(Status(""))
	}
	if f.Type == Structured {
		ptr := reflect.New(f.goType)
		if len(f.defJSON) > 0 {
			_ = json.Unmarshal(f.defJSON, ptr.Interface())
		}
		return emptyContainer(ptr.Elem())
	}
	if f.def.IsValid() {
		return f.def
	}
	return reflect.Zero(f.goType)
}

var (
	recordType = reflect.TypeFor[Record]()
	columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

	fieldCache sync.Map // reflect.Type -> []Field
)

// DescribeType derives the ordered persisted fields of an entity struct type.
// The result is memoized per type. Unsupported field shapes fail here, at
// registration time, rather than at write time.
func DescribeType(t reflect.Type) ([]Field, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]Field), nil
	}
	fields, err := describe(t)
	if err != nil {
		return nil, err
	}
	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]Field), nil
}

// Describe is DescribeType for an entity pointer type.
func Describe[E Entity]() ([]Field, error) {
	return DescribeType(reflect.TypeFor[E]())
}

func describe(t reflect.Type) ([]Field, error) {
	if t.Kind() != reflect.Struct {
		return nil, apperrors.ErrConfigf("entity type %s is not a struct", t)
	}

	var (
		fields    []Field
		seen      = map[string]bool{}
		hasRecord bool
	)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Anonymous && sf.Type == recordType {
			hasRecord = true
			for _, rf := range recordFields(sf.Index) {
				seen[rf.Name] = true
				fields = append(fields, rf)
			}
			continue
		}

		name := sf.Tag.Get("db")
		if name == "" || name == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, apperrors.ErrConfigf("%s.%s: persisted field must be exported", t.Name(), sf.Name)
		}
		if !columnName.MatchString(name) {
			return nil, apperrors.ErrConfigf("%s.%s: invalid column name %q", t.Name(), sf.Name, name)
		}
		if name == "id" || seen[name] {
			return nil, apperrors.ErrConfigf("%s.%s: column %q is reserved or duplicated", t.Name(), sf.Name, name)
		}

		st, ok := semanticOf(sf.Type)
		if !ok {
			return nil, apperrors.ErrUnsupportedFieldf(t.Name(), sf.Name, sf.Type.String())
		}

		f := Field{
			Name:   name,
			Type:   st,
			kind:   kindValue,
			index:  sf.Index,
			goType: sf.Type,
		}
		if raw, ok := sf.Tag.Lookup("default"); ok {
			if err := f.parseDefault(raw); err != nil {
				return nil, apperrors.ErrConfigf("%s.%s: default %q: %v", t.Name(), sf.Name, raw, err)
			}
			f.HasDefault = true
		}
		seen[name] = true
		fields = append(fields, f)
	}

	if !hasRecord {
		return nil, apperrors.ErrConfigf("entity type %s must embed persistence.Record", t.Name())
	}
	return fields, nil
}

func recordFields(index []int) []Field {
	return []Field{
		{Name: "creation_date", Type: Text, kind: kindCreationDate, index: index},
		{Name: "metadata", Type: Text, kind: kindMetadata, index: index},
		{Name: "status", Type: Text, kind: kindStatus, index: index},
	}
}

func semanticOf(t reflect.Type) (SemanticType, bool) {
	switch t.Kind() {
	case reflect.String:
		return Text, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Integer, true
	case reflect.Float32, reflect.Float64:
		return Real, true
	case reflect.Bool:
		return Boolean, true
	case reflect.Slice, reflect.Array, reflect.Map:
		return Structured, true
	default:
		return 0, false
	}
}

func (f *Field) parseDefault(raw string) error {
	switch f.Type {
	case Text:
		f.def = reflect.ValueOf(raw).Convert(f.goType)
	case Integer:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		f.def = reflect.ValueOf(n).Convert(f.goType)
	case Real:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.def = reflect.ValueOf(x).Convert(f.goType)
	case Boolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.def = reflect.ValueOf(b).Convert(f.goType)
	case Structured:
		ptr := reflect.New(f.goType)
		if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
			return err
		}
		f.defJSON = []byte(raw)
	}
	return nil
}

func emptyContainer(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return reflect.MakeSlice(v.Type(), 0, 0)
		}
	case reflect.Map:
		if v.IsNil() {
			return reflect.MakeMap(v.Type())
		}
	}
	return v
}

// Schema binds the derived fields of an entity type to its table.
type Schema struct {
	Table  string
	Fields []Field

	byName map[string]int
}

func newSchema(table string, fields []Field) (*Schema, error) {
	if table == "" {
		return nil, apperrors.ErrConfigf("entity type name must not be empty")
	}
	s := &Schema{Table: table, Fields: fields, byName: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.byName[f.Name] = i
	}
	return s, nil
}

// Field looks up a declared field by column name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Columns returns id followed by every field name, in storage order.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+1)
	cols = append(cols, "id")
	for _, f := range s.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// known reports whether a filter may reference column.
func (s *Schema) known(column string) bool {
	if column == "id" {
		return true
	}
	_, ok := s.byName[column]
	return ok
}
