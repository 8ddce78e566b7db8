package codec

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Undefined is the JS undefined value. It is distinct from nil, which is null.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }

// Map is an insertion-ordered map whose keys may be any value, like a JS Map.
// Keys are compared with sameValue: == for comparable values, identity otherwise.
type Map struct {
	keys   []any
	values []any
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{} }

func (m *Map) indexOf(key any) int {
	for i, k := range m.keys {
		if sameValue(k, key) {
			return i
		}
	}
	return -1
}

// Set stores value under key, keeping the position of an existing key.
func (m *Map) Set(key, value any) *Map {
	if i := m.indexOf(key); i >= 0 {
		m.values[i] = value
		return m
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
	return m
}

// Get returns the value stored under key.
func (m *Map) Get(key any) (any, bool) {
	if i := m.indexOf(key); i >= 0 {
		return m.values[i], true
	}
	return nil, false
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key any) bool {
	i := m.indexOf(key)
	if i < 0 {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	return true
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key, value any) bool) {
	for i := range m.keys {
		if !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

// Set is an insertion-ordered collection of unique values, like a JS Set.
type Set struct {
	items []any
}

// NewSet returns a Set holding items, duplicates dropped.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v unless it is already a member.
func (s *Set) Add(v any) *Set {
	if !s.Has(v) {
		s.items = append(s.items, v)
	}
	return s
}

// Has reports membership.
func (s *Set) Has(v any) bool {
	for _, it := range s.items {
		if sameValue(it, v) {
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (s *Set) Len() int { return len(s.items) }

// Values returns the members in insertion order.
func (s *Set) Values() []any { return append([]any(nil), s.items...) }

// RegExp is a JS regular expression: its source and its flag letters.
type RegExp struct {
	Source string
	Flags  string
}

// Compile translates the expression into a Go regexp. The i, m and s flags map
// onto Go flags; g, y, u and d only affect JS matching state and are ignored.
func (r *RegExp) Compile() (*regexp.Regexp, error) {
	var goFlags strings.Builder
	for _, f := range r.Flags {
		switch f {
		case 'i', 'm', 's':
			goFlags.WriteRune(f)
		case 'g', 'y', 'u', 'd', 'v':
		default:
			return nil, fmt.Errorf("codec: unsupported regexp flag %q", f)
		}
	}
	expr := r.Source
	if goFlags.Len() > 0 {
		expr = "(?" + goFlags.String() + ")" + expr
	}
	return regexp.Compile(expr)
}

func (r *RegExp) String() string { return "/" + r.Source + "/" + r.Flags }

// ErrorValue is an error that crossed the wire as data.
type ErrorValue struct {
	Name    string
	Message string
}

func (e *ErrorValue) Error() string {
	if e.Name == "" || e.Name == "Error" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// sameValue compares a and b with == when their dynamic type allows it, and by
// reference for maps, slices and other non-comparable values.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		defer func() { _ = recover() }()
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Pointer:
		return va.Pointer() == vb.Pointer() && (va.Kind() != reflect.Slice || va.Len() == vb.Len())
	}
	return false
}
