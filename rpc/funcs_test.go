package rpc

import (
	"context"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"devtools-rpc/codec"
)

func TestNewFuncTableValidates(t *testing.T) {
	_, err := NewFuncTable(Functions{"x": 42})
	require.Error(t, err)

	_, err = NewFuncTable(Functions{"x": func() (int, string) { return 0, "" }})
	require.Error(t, err)

	_, err = NewFuncTable(Functions{"x": func() (int, int, error) { return 0, 0, nil }})
	require.Error(t, err)

	var nilFunc func()
	_, err = NewFuncTable(Functions{"x": nilFunc})
	require.Error(t, err)

	table, err := NewFuncTable(Functions{
		"b": func() {},
		"a": func(context.Context, ...any) (any, error) { return nil, nil },
		"c": func() error { return nil },
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, table.Names())
	require.True(t, table.Has("a"))
	require.False(t, table.Has("z"))

	var empty *FuncTable
	require.False(t, empty.Has("a"))
	require.Nil(t, empty.Names())
}

func TestBind(t *testing.T) {
	type opts struct {
		Depth int    `json:"depth"`
		Name  string `json:"name"`
	}
	type label string

	cases := []struct {
		in     any
		typ    reflect.Type
		expect any
	}{
		{int64(3), reflect.TypeFor[int](), 3},
		{float64(3), reflect.TypeFor[int8](), int8(3)},
		{int64(7), reflect.TypeFor[float32](), float32(7)},
		{int64(7), reflect.TypeFor[uint16](), uint16(7)},
		{"x", reflect.TypeFor[label](), label("x")},
		{nil, reflect.TypeFor[int](), 0},
		{codec.Undefined{}, reflect.TypeFor[string](), ""},
		{codec.Undefined{}, reflect.TypeFor[any](), codec.Undefined{}},
		{[]any{int64(1), int64(2)}, reflect.TypeFor[[]int](), []int{1, 2}},
		{map[string]any{"a": int64(1)}, reflect.TypeFor[map[string]float64](), map[string]float64{"a": 1}},
		{map[string]any{"depth": int64(2), "name": "root"}, reflect.TypeFor[opts](), opts{Depth: 2, Name: "root"}},
		{map[string]any{"depth": int64(2)}, reflect.TypeFor[*opts](), &opts{Depth: 2}},
		{big.NewInt(5), reflect.TypeFor[*big.Int](), big.NewInt(5)},
		{time.Unix(0, 0).UTC(), reflect.TypeFor[time.Time](), time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		got, err := bind(tc.in, tc.typ)
		require.NoError(t, err, "%#v → %s", tc.in, tc.typ)
		if diff := cmp.Diff(tc.expect, got.Interface(), cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })); diff != "" {
			t.Fatalf("bind(%#v, %s) mismatch (-expect +got):\n%s", tc.in, tc.typ, diff)
		}
	}
}

func TestBindRejects(t *testing.T) {
	cases := []struct {
		in  any
		typ reflect.Type
	}{
		{3.5, reflect.TypeFor[int]()},
		{int64(-1), reflect.TypeFor[uint]()},
		{int64(300), reflect.TypeFor[int8]()},
		{"3", reflect.TypeFor[int]()},
		{[]any{"a"}, reflect.TypeFor[[]int]()},
		{true, reflect.TypeFor[string]()},
	}
	for _, tc := range cases {
		_, err := bind(tc.in, tc.typ)
		require.Error(t, err, "%#v → %s", tc.in, tc.typ)
	}
}

func TestInvokeMissingAndExtraArgs(t *testing.T) {
	table, err := NewFuncTable(Functions{
		"pair": func(a string, b int) []any { return []any{a, b} },
	})
	require.NoError(t, err)

	got, err := table.call(context.Background(), "pair", []any{"x"})
	require.NoError(t, err)
	require.Equal(t, []any{"x", 0}, got)

	got, err = table.call(context.Background(), "pair", []any{"x", int64(1), "ignored"})
	require.NoError(t, err)
	require.Equal(t, []any{"x", 1}, got)

	_, err = table.call(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrNoSuchRemoteFunction)
}

func TestBindGeneric(t *testing.T) {
	n, err := Bind[int](int64(9))
	require.NoError(t, err)
	require.Equal(t, 9, n)

	v, err := Bind[any](nil)
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = Bind[int]("nine")
	require.Error(t, err)
}
