package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cast"
)

// canonicalJSON renders v as compact JSON with sorted map keys, so equal
// values always persist to equal text.
func canonicalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// fieldValue returns the reflect.Value backing f inside entity e.
func fieldValue(e Entity, f Field) reflect.Value {
	rec := e.record()
	switch f.kind {
	case kindCreationDate:
		return reflect.ValueOf(&rec.CreationDate).Elem()
	case kindMetadata:
		return reflect.ValueOf(&rec.Metadata).Elem()
	case kindStatus:
		return reflect.ValueOf(&rec.status).Elem()
	}
	return reflect.ValueOf(e).Elem().FieldByIndex(f.index)
}

// encodeField converts a field value into a driver parameter.
func encodeField(f Field, v reflect.Value) (any, error) {
	switch f.Type {
	case Text:
		return v.String(), nil
	case Integer:
		if v.CanInt() {
			return v.Int(), nil
		}
		return int64(v.Uint()), nil
	case Real:
		return v.Float(), nil
	case Boolean:
		return v.Bool(), nil
	case Structured:
		s, err := canonicalJSON(emptyContainer(v).Interface())
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("encode %s: unknown semantic type %d", f.Name, f.Type)
}

// decodeField converts a driver value into dst, the inverse of encodeField.
// NULL decodes to the field's default.
func decodeField(f Field, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.Set(f.zero())
		return nil
	}
	switch f.Type {
	case Text:
		s, err := cast.ToStringE(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		dst.SetString(s)
	case Integer:
		if dst.CanInt() {
			n, err := cast.ToInt64E(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", f.Name, err)
			}
			if dst.OverflowInt(n) {
				return fmt.Errorf("decode %s: %d overflows %s", f.Name, n, dst.Type())
			}
			dst.SetInt(n)
			return nil
		}
		n, err := cast.ToUint64E(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("decode %s: %d overflows %s", f.Name, n, dst.Type())
		}
		dst.SetUint(n)
	case Real:
		x, err := cast.ToFloat64E(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		dst.SetFloat(x)
	case Boolean:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		dst.SetBool(b)
	case Structured:
		data, err := jsonBytes(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		ptr := reflect.New(dst.Type())
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		dst.Set(emptyContainer(ptr.Elem()))
	}
	return nil
}

// jsonBytes accepts JSON as text (SQLite, pgx text mode) or as an already
// decoded value (pgx decodes jsonb into maps and slices).
func jsonBytes(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// decodeAny decodes a raw column value into a fresh value of the field's
// Go type, for callers that want the value rather than an entity.
func decodeAny(f Field, raw any) (any, error) {
	var dst reflect.Value
	switch f.kind {
	case kindCreationDate, kindMetadata:
		dst = reflect.New(reflect.TypeFor[string]()).Elem()
	case kindStatus:
		dst = reflect.New(reflect.TypeFor[Status]()).Elem()
	default:
		dst = reflect.New(f.goType).Elem()
	}
	if err := decodeField(f, raw, dst); err != nil {
		return nil, err
	}
	return dst.Interface(), nil
}

// normalizeParam lowers named scalar types (Status, custom string enums) to
// their builtin kinds before they reach a driver.
func normalizeParam(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Map, reflect.Array:
		if s, err := canonicalJSON(v); err == nil {
			return s
		}
	}
	return v
}
