package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Field is a single metadata entry.
type Field struct {
	Key   string
	Value any
}

// Metadata is an insertion-ordered string→scalar mapping. Scalars are string,
// bool, int64, float64 and nil; other integer and float widths are normalised
// on Set. The zero value is an empty mapping ready to use.
type Metadata struct {
	fields []Field
}

// NewMetadata builds Metadata from alternating key/value pairs.
// It panics on an odd argument count or a non-string key.
func NewMetadata(kvs ...any) Metadata {
	if len(kvs)%2 != 0 {
		panic("domain: NewMetadata needs key/value pairs")
	}
	var m Metadata
	for i := 0; i < len(kvs); i += 2 {
		k, ok := kvs[i].(string)
		if !ok {
			panic(fmt.Sprintf("domain: metadata key %v is not a string", kvs[i]))
		}
		m.Set(k, kvs[i+1])
	}
	return m
}

// MetadataFromMap builds Metadata from a map. Keys are sorted since Go maps
// carry no order.
func MetadataFromMap(src map[string]any) Metadata {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var m Metadata
	for _, k := range keys {
		m.Set(k, src[k])
	}
	return m
}

// Len returns the number of fields.
func (m Metadata) Len() int { return len(m.fields) }

// Get returns the value for key.
func (m Metadata) Get(key string) (any, bool) {
	for _, f := range m.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the value for key if it is a string.
func (m Metadata) String(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// Set inserts or overwrites key. Overwriting keeps the original position.
func (m *Metadata) Set(key string, value any) {
	value = normalizeScalar(value)
	for i := range m.fields {
		if m.fields[i].Key == key {
			m.fields[i].Value = value
			return
		}
	}
	m.fields = append(m.fields, Field{Key: key, Value: value})
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m.fields))
	for i, f := range m.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in insertion order.
func (m Metadata) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Map returns the mapping as a plain map.
func (m Metadata) Map() map[string]any {
	out := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		out[f.Key] = f.Value
	}
	return out
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	return Metadata{fields: m.Fields()}
}

// Merge returns a copy of m with every field of over written on top.
func (m Metadata) Merge(over Metadata) Metadata {
	out := m.Clone()
	for _, f := range over.fields {
		out.Set(f.Key, f.Value)
	}
	return out
}

// Equal reports whether both mappings hold the same fields in the same order.
func (m Metadata) Equal(o Metadata) bool {
	if len(m.fields) != len(o.fields) {
		return false
	}
	for i := range m.fields {
		if m.fields[i].Key != o.fields[i].Key || !reflect.DeepEqual(m.fields[i].Value, o.fields[i].Value) {
			return false
		}
	}
	return true
}

// MarshalJSON writes an object with keys in insertion order. Integral floats
// keep a fractional part so they decode back as float64.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if fv, ok := f.Value.(float64); ok {
			buf.WriteString(formatFloat(fv))
			continue
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", f.Key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping the key order of the input.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		m.fields = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("metadata: expected object, got %v", tok)
	}
	var out Metadata
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		if n, ok := raw.(json.Number); ok {
			raw = decodeNumber(n)
		}
		out.Set(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// IsScalar reports whether v is a value Metadata can hold.
func IsScalar(v any) bool {
	switch normalizeScalar(v).(type) {
	case nil, string, bool, int64, float64:
		return true
	default:
		return false
	}
}

func normalizeScalar(v any) any {
	switch tv := v.(type) {
	case int:
		return int64(tv)
	case int8:
		return int64(tv)
	case int16:
		return int64(tv)
	case int32:
		return int64(tv)
	case uint:
		return int64(tv)
	case uint8:
		return int64(tv)
	case uint16:
		return int64(tv)
	case uint32:
		return int64(tv)
	case float32:
		return float64(tv)
	default:
		return v
	}
}

func decodeNumber(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return f
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
