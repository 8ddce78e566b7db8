package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"

	"devtools-rpc/codec"
)

// Functions is the table of functions one side exposes to its peer. Values are
// Go funcs of the form
//
//	func([ctx context.Context,] args ...) ([R,] [error])
//
// Arguments are bound from the decoded wire values: numbers are converted to
// the parameter's numeric type when they fit, []any fills typed slices,
// map[string]any fills maps and structs (through their json tags). Missing
// trailing arguments are zero values and extra ones are ignored, unless the
// function is variadic.
type Functions map[string]any

type function struct {
	name      string
	fn        reflect.Value
	hasCtx    bool
	params    []reflect.Type // without the context; the last is a slice type when variadic
	variadic  bool
	hasResult bool
	hasErr    bool
}

// FuncTable is a validated Functions table. It is read-only once built.
type FuncTable struct {
	funcs map[string]*function
}

var (
	errorType   = reflect.TypeFor[error]()
	contextType = reflect.TypeFor[context.Context]()
)

// NewFuncTable checks every entry of fns. A table with an entry that is not a
// supported func is rejected as a whole.
func NewFuncTable(fns Functions) (*FuncTable, error) {
	t := &FuncTable{funcs: make(map[string]*function, len(fns))}
	for name, v := range fns {
		f, err := newFunction(name, v)
		if err != nil {
			return nil, err
		}
		t.funcs[name] = f
	}
	return t, nil
}

func newFunction(name string, v any) (*function, error) {
	if name == "" {
		return nil, fmt.Errorf("rpc: function with empty name")
	}
	fv := reflect.ValueOf(v)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, fmt.Errorf("rpc: %q must be a func, got %T", name, v)
	}
	ft := fv.Type()
	f := &function{name: name, fn: fv, variadic: ft.IsVariadic()}

	for i := 0; i < ft.NumIn(); i++ {
		in := ft.In(i)
		if i == 0 && in == contextType {
			f.hasCtx = true
			continue
		}
		f.params = append(f.params, in)
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			f.hasErr = true
		} else {
			f.hasResult = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("rpc: %q: second result must be error, got %s", name, ft.Out(1))
		}
		f.hasResult, f.hasErr = true, true
	default:
		return nil, fmt.Errorf("rpc: %q: too many results (%d)", name, ft.NumOut())
	}
	return f, nil
}

// Has reports whether name is registered.
func (t *FuncTable) Has(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.funcs[name]
	return ok
}

// Names returns the registered names, sorted.
func (t *FuncTable) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// call runs name with args. Unknown names fail with ErrNoSuchRemoteFunction;
// binding failures, handler errors and panics fail with ErrRemoteThrew.
func (t *FuncTable) call(ctx context.Context, name string, args []any) (any, error) {
	if !t.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchRemoteFunction, name)
	}
	return t.funcs[name].invoke(ctx, args)
}

// thrown is a handler failure. Only its message crosses the wire.
type thrown struct{ msg string }

func (e *thrown) Error() string { return e.msg }
func (e *thrown) Unwrap() error { return ErrRemoteThrew }

func (f *function) invoke(ctx context.Context, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &thrown{msg: fmt.Sprint(r)}
		}
	}()

	in, err := f.bindArgs(ctx, args)
	if err != nil {
		return nil, &thrown{msg: fmt.Sprintf("%s: %v", f.name, err)}
	}
	out := f.fn.Call(in)

	if f.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, &thrown{msg: e.Interface().(error).Error()}
		}
	}
	if f.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func (f *function) bindArgs(ctx context.Context, args []any) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(f.params)+1)
	if f.hasCtx {
		in = append(in, reflect.ValueOf(ctx))
	}

	fixed := len(f.params)
	if f.variadic {
		fixed--
	}
	for i := 0; i < fixed; i++ {
		var a any
		if i < len(args) {
			a = args[i]
		}
		v, err := bind(a, f.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in = append(in, v)
	}
	if f.variadic {
		elem := f.params[fixed].Elem()
		for i := fixed; i < len(args); i++ {
			v, err := bind(args[i], elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

// bind converts a decoded wire value into a value of type t.
func bind(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	if _, undef := v.(codec.Undefined); undef && t.Kind() != reflect.Interface {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}

	switch {
	case isNumber(rv.Kind()) && isNumber(t.Kind()):
		return convertNumber(rv, t)
	case (t.Kind() == reflect.String || t.Kind() == reflect.Bool) && rv.Kind() == t.Kind():
		return rv.Convert(t), nil
	case t.Kind() == reflect.Slice && rv.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := bind(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			out.Index(i).Set(e)
		}
		return out, nil
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String &&
		rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
		out := reflect.MakeMapWithSize(t, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := bind(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("%q: %w", iter.Key().String(), err)
			}
			out.SetMapIndex(reflect.ValueOf(iter.Key().String()).Convert(t.Key()), e)
		}
		return out, nil
	case t.Kind() == reflect.Pointer:
		e, err := bind(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(e)
		return p, nil
	case t.Kind() == reflect.Struct && rv.Kind() == reflect.Map:
		return bindStruct(v, t)
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}

func bindStruct(v any, t reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, t, err)
	}
	p := reflect.New(t)
	if err := json.Unmarshal(data, p.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %T as %s: %w", v, t, err)
	}
	return p.Elem(), nil
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	overflow := fmt.Errorf("%v overflows %s", rv.Interface(), t)

	switch {
	case isInt(t.Kind()):
		var i int64
		switch {
		case isInt(rv.Kind()):
			i = rv.Int()
		case isUint(rv.Kind()):
			if rv.Uint() > math.MaxInt64 {
				return reflect.Value{}, overflow
			}
			i = int64(rv.Uint())
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%v is not an integer of type %s", f, t)
			}
			i = int64(f)
		}
		if out.OverflowInt(i) {
			return reflect.Value{}, overflow
		}
		out.SetInt(i)
	case isUint(t.Kind()):
		var u uint64
		switch {
		case isInt(rv.Kind()):
			if rv.Int() < 0 {
				return reflect.Value{}, overflow
			}
			u = uint64(rv.Int())
		case isUint(rv.Kind()):
			u = rv.Uint()
		default:
			f := rv.Float()
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
				return reflect.Value{}, fmt.Errorf("%v is not an integer of type %s", f, t)
			}
			u = uint64(f)
		}
		if out.OverflowUint(u) {
			return reflect.Value{}, overflow
		}
		out.SetUint(u)
	default:
		var f float64
		switch {
		case isInt(rv.Kind()):
			f = float64(rv.Int())
		case isUint(rv.Kind()):
			f = float64(rv.Uint())
		default:
			f = rv.Float()
		}
		if out.OverflowFloat(f) {
			return reflect.Value{}, overflow
		}
		out.SetFloat(f)
	}
	return out, nil
}

// Bind converts a decoded result into T with the same rules used for
// arguments.
func Bind[T any](v any) (T, error) {
	var zero T
	rv, err := bind(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	out, _ := rv.Interface().(T)
	return out, nil
}
