package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
	"unsafe"
)

// Tagged wire format.
//
// A value is flattened into a JSON array of records; record 0 is the root and
// every record is [tag] or [tag, payload]. Containers refer to their children by
// record index, so a value reachable twice is written once and a cycle is just
// an index pointing back at an ancestor:
//
//	m := map[string]any{"n": 1}; m["self"] = m
//	→ [[8,[["n",1],["self",0]]],[4,1]]
const (
	tagNull    = 0
	tagUndef   = 1
	tagBool    = 2
	tagString  = 3
	tagInt     = 4
	tagFloat   = 5
	tagSpecial = 6 // NaN, Infinity, -Infinity
	tagArray   = 7
	tagObject  = 8
	tagMap     = 9
	tagSet     = 10
	tagDate    = 11
	tagRegExp  = 12
	tagBigInt  = 13
	tagError   = 14
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ErrMalformed is returned for input that is not a valid tagged document.
var ErrMalformed = errors.New("codec: malformed tagged data")

// MaxDepth bounds how deeply containers may nest in a decoded document.
const MaxDepth = 512

type identity struct {
	kind reflect.Kind
	ptr  unsafe.Pointer
	len  int
}

type encoder struct {
	records []any
	seen    map[identity]int
}

// Marshal flattens v into the tagged format.
func Marshal(v any) ([]byte, error) {
	e := &encoder{seen: make(map[identity]int)}
	if _, err := e.encode(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return json.Marshal(e.records)
}

func (e *encoder) add(rec []any) int {
	e.records = append(e.records, rec)
	return len(e.records) - 1
}

func (e *encoder) reserve() int {
	e.records = append(e.records, nil)
	return len(e.records) - 1
}

// track returns the index already assigned to the container behind v, or
// reserves a new one and remembers it before the children are visited.
func (e *encoder) track(v reflect.Value) (int, bool) {
	id := identity{kind: v.Kind(), ptr: v.UnsafePointer()}
	if v.Kind() == reflect.Slice {
		id.len = v.Len()
	}
	if idx, ok := e.seen[id]; ok {
		return idx, true
	}
	idx := e.reserve()
	if id.ptr != nil {
		e.seen[id] = idx
	}
	return idx, false
}

func (e *encoder) encode(v reflect.Value) (int, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return e.add([]any{tagNull}), nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return e.add([]any{tagNull}), nil
	}

	// Concrete types with their own tag come before the kind switch.
	switch x := v.Interface().(type) {
	case Undefined:
		return e.add([]any{tagUndef}), nil
	case time.Time:
		return e.add([]any{tagDate, x.UTC().Format(time.RFC3339Nano)}), nil
	case *big.Int:
		if x == nil {
			return e.add([]any{tagNull}), nil
		}
		return e.add([]any{tagBigInt, x.String()}), nil
	case *RegExp:
		if x == nil {
			return e.add([]any{tagNull}), nil
		}
		return e.add([]any{tagRegExp, []string{x.Source, x.Flags}}), nil
	case *regexp.Regexp:
		if x == nil {
			return e.add([]any{tagNull}), nil
		}
		return e.add([]any{tagRegExp, []string{x.String(), ""}}), nil
	case *Map:
		if x == nil {
			return e.add([]any{tagNull}), nil
		}
		return e.encodeMap(v, x)
	case *Set:
		if x == nil {
			return e.add([]any{tagNull}), nil
		}
		return e.encodeSet(v, x)
	}
	if v.Type().Implements(errorType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return e.add([]any{tagNull}), nil
		}
		err := v.Interface().(error)
		name, msg := "Error", err.Error()
		if ev, ok := err.(*ErrorValue); ok {
			msg = ev.Message
			if ev.Name != "" {
				name = ev.Name
			}
		}
		return e.add([]any{tagError, []string{name, msg}}), nil
	}

	switch v.Kind() {
	case reflect.Bool:
		return e.add([]any{tagBool, v.Bool()}), nil
	case reflect.String:
		return e.add([]any{tagString, v.String()}), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.add([]any{tagInt, v.Int()}), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > math.MaxInt64 {
			return e.add([]any{tagBigInt, new(big.Int).SetUint64(u).String()}), nil
		}
		return e.add([]any{tagInt, int64(u)}), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			return e.add([]any{tagSpecial, "NaN"}), nil
		case math.IsInf(f, 1):
			return e.add([]any{tagSpecial, "Infinity"}), nil
		case math.IsInf(f, -1):
			return e.add([]any{tagSpecial, "-Infinity"}), nil
		}
		return e.add([]any{tagFloat, f}), nil
	case reflect.Pointer:
		if v.IsNil() {
			return e.add([]any{tagNull}), nil
		}
		return e.encodePointer(v)
	case reflect.Slice:
		if v.IsNil() {
			return e.add([]any{tagNull}), nil
		}
		return e.encodeArray(v)
	case reflect.Array:
		return e.encodeArray(v)
	case reflect.Map:
		if v.IsNil() {
			return e.add([]any{tagNull}), nil
		}
		if v.Type().Key().Kind() == reflect.String {
			return e.encodeObject(v)
		}
		return e.encodeGoMap(v)
	case reflect.Struct:
		return e.encodeStruct(v, -1)
	}
	return 0, fmt.Errorf("codec: cannot encode value of type %s", v.Type())
}

func (e *encoder) encodeArray(v reflect.Value) (int, error) {
	var idx int
	if v.Kind() == reflect.Slice {
		var dup bool
		if idx, dup = e.track(v); dup {
			return idx, nil
		}
	} else {
		idx = e.reserve()
	}
	children := make([]int, v.Len())
	for i := 0; i < v.Len(); i++ {
		c, err := e.encode(v.Index(i))
		if err != nil {
			return 0, err
		}
		children[i] = c
	}
	e.records[idx] = []any{tagArray, children}
	return idx, nil
}

func (e *encoder) encodeObject(v reflect.Value) (int, error) {
	idx, dup := e.track(v)
	if dup {
		return idx, nil
	}
	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	entries := make([][2]any, 0, len(keys))
	for _, k := range keys {
		c, err := e.encode(v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())))
		if err != nil {
			return 0, err
		}
		entries = append(entries, [2]any{k, c})
	}
	e.records[idx] = []any{tagObject, entries}
	return idx, nil
}

// encodeGoMap writes a Go map with non-string keys as a Map record.
func (e *encoder) encodeGoMap(v reflect.Value) (int, error) {
	idx, dup := e.track(v)
	if dup {
		return idx, nil
	}
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	entries := make([][2]int, 0, len(keys))
	for _, k := range keys {
		kc, err := e.encode(k)
		if err != nil {
			return 0, err
		}
		vc, err := e.encode(v.MapIndex(k))
		if err != nil {
			return 0, err
		}
		entries = append(entries, [2]int{kc, vc})
	}
	e.records[idx] = []any{tagMap, entries}
	return idx, nil
}

func (e *encoder) encodeMap(v reflect.Value, m *Map) (int, error) {
	idx, dup := e.track(v)
	if dup {
		return idx, nil
	}
	entries := make([][2]int, 0, m.Len())
	var err error
	m.Range(func(key, value any) bool {
		var kc, vc int
		if kc, err = e.encode(reflect.ValueOf(key)); err != nil {
			return false
		}
		if vc, err = e.encode(reflect.ValueOf(value)); err != nil {
			return false
		}
		entries = append(entries, [2]int{kc, vc})
		return true
	})
	if err != nil {
		return 0, err
	}
	e.records[idx] = []any{tagMap, entries}
	return idx, nil
}

func (e *encoder) encodeSet(v reflect.Value, s *Set) (int, error) {
	idx, dup := e.track(v)
	if dup {
		return idx, nil
	}
	members := make([]int, 0, s.Len())
	for _, it := range s.items {
		c, err := e.encode(reflect.ValueOf(it))
		if err != nil {
			return 0, err
		}
		members = append(members, c)
	}
	e.records[idx] = []any{tagSet, members}
	return idx, nil
}

// encodePointer follows a pointer, sharing the record between every pointer to
// the same struct so linked structures keep their shape.
func (e *encoder) encodePointer(v reflect.Value) (int, error) {
	if v.Elem().Kind() != reflect.Struct {
		return e.encode(v.Elem())
	}
	idx, dup := e.track(v)
	if dup {
		return idx, nil
	}
	return e.encodeStruct(v.Elem(), idx)
}

// encodeStruct writes exported fields as an object, honouring json tag names.
func (e *encoder) encodeStruct(v reflect.Value, idx int) (int, error) {
	if idx < 0 {
		idx = e.reserve()
	}
	t := v.Type()
	entries := make([][2]any, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		c, err := e.encode(v.Field(i))
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", f.Name, err)
		}
		entries = append(entries, [2]any{name, c})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i][0].(string) < entries[j][0].(string) })
	e.records[idx] = []any{tagObject, entries}
	return idx, nil
}

type decoder struct {
	records []json.RawMessage
	values  []any
	done    []bool
	depth   int
}

// Unmarshal rebuilds a value written by Marshal.
func Unmarshal(data []byte) (any, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	d := &decoder{
		records: records,
		values:  make([]any, len(records)),
		done:    make([]bool, len(records)),
	}
	return d.decode(0)
}

func (d *decoder) ref(raw json.RawMessage) (any, error) {
	var idx int
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("%w: bad reference %s", ErrMalformed, raw)
	}
	return d.decode(idx)
}

func (d *decoder) decode(idx int) (any, error) {
	if idx < 0 || idx >= len(d.records) {
		return nil, fmt.Errorf("%w: reference %d out of range", ErrMalformed, idx)
	}
	// Containers are registered before their children are decoded, which is
	// what lets a child reference point back at an ancestor.
	if d.done[idx] {
		return d.values[idx], nil
	}
	if d.depth >= MaxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, MaxDepth)
	}
	d.depth++
	defer func() { d.depth-- }()

	var rec []json.RawMessage
	if err := json.Unmarshal(d.records[idx], &rec); err != nil || len(rec) == 0 {
		return nil, fmt.Errorf("%w: record %d", ErrMalformed, idx)
	}
	var tag int
	if err := json.Unmarshal(rec[0], &tag); err != nil {
		return nil, fmt.Errorf("%w: record %d tag", ErrMalformed, idx)
	}
	var payload json.RawMessage
	if len(rec) > 1 {
		payload = rec[1]
	}

	switch tag {
	case tagArray:
		var children []json.RawMessage
		if err := json.Unmarshal(payload, &children); err != nil {
			return nil, fmt.Errorf("%w: array %d", ErrMalformed, idx)
		}
		arr := make([]any, len(children))
		d.finish(idx, arr)
		for i, c := range children {
			v, err := d.ref(c)
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil
	case tagObject:
		var entries [][2]json.RawMessage
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, fmt.Errorf("%w: object %d", ErrMalformed, idx)
		}
		obj := make(map[string]any, len(entries))
		d.finish(idx, obj)
		for _, ent := range entries {
			var k string
			if err := json.Unmarshal(ent[0], &k); err != nil {
				return nil, fmt.Errorf("%w: object %d key", ErrMalformed, idx)
			}
			v, err := d.ref(ent[1])
			if err != nil {
				return nil, err
			}
			obj[k] = v
		}
		return obj, nil
	case tagMap:
		var entries [][2]json.RawMessage
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, fmt.Errorf("%w: map %d", ErrMalformed, idx)
		}
		m := NewMap()
		d.finish(idx, m)
		for _, ent := range entries {
			k, err := d.ref(ent[0])
			if err != nil {
				return nil, err
			}
			v, err := d.ref(ent[1])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case tagSet:
		var members []json.RawMessage
		if err := json.Unmarshal(payload, &members); err != nil {
			return nil, fmt.Errorf("%w: set %d", ErrMalformed, idx)
		}
		s := NewSet()
		d.finish(idx, s)
		for _, c := range members {
			v, err := d.ref(c)
			if err != nil {
				return nil, err
			}
			s.Add(v)
		}
		return s, nil
	}

	v, err := decodeScalar(tag, payload)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", idx, err)
	}
	d.finish(idx, v)
	return v, nil
}

func (d *decoder) finish(idx int, v any) {
	d.values[idx] = v
	d.done[idx] = true
}

func decodeScalar(tag int, payload json.RawMessage) (any, error) {
	switch tag {
	case tagNull:
		return nil, nil
	case tagUndef:
		return Undefined{}, nil
	case tagBool:
		var b bool
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, ErrMalformed
		}
		return b, nil
	case tagString:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, ErrMalformed
		}
		return s, nil
	case tagInt:
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, ErrMalformed
		}
		i, err := n.Int64()
		if err != nil {
			return nil, ErrMalformed
		}
		return i, nil
	case tagFloat:
		var f float64
		if err := json.Unmarshal(payload, &f); err != nil {
			return nil, ErrMalformed
		}
		return f, nil
	case tagSpecial:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, ErrMalformed
		}
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("%w: special number %q", ErrMalformed, s)
	case tagDate:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, ErrMalformed
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrMalformed, s)
		}
		return t, nil
	case tagRegExp:
		var parts [2]string
		if err := json.Unmarshal(payload, &parts); err != nil {
			return nil, ErrMalformed
		}
		return &RegExp{Source: parts[0], Flags: parts[1]}, nil
	case tagBigInt:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, ErrMalformed
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: bigint %q", ErrMalformed, s)
		}
		return n, nil
	case tagError:
		var parts [2]string
		if err := json.Unmarshal(payload, &parts); err != nil {
			return nil, ErrMalformed
		}
		return &ErrorValue{Name: parts[0], Message: parts[1]}, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)
}
