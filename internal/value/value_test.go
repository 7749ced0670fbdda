package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_Bytes(t *testing.T) {
	cmp, ok := Compare(Bytes([]byte{1, 2}), Bytes([]byte{1, 3}))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	assert.True(t, Equal(Bytes([]byte("abc")), Bytes([]byte("abc"))))
	assert.False(t, Equal(Bytes([]byte("abc")), Bytes([]byte("abd"))))
}

func TestCompare_MismatchedKindsNotComparable(t *testing.T) {
	_, ok := Compare(Int64(1), Text("1"))
	assert.False(t, ok)

	_, ok = Compare(Null(), Int64(1))
	assert.False(t, ok)
}

func TestFromAny(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"int32", int32(7), Int64(7)},
		{"int64", int64(7), Int64(7)},
		{"float64", 3.5, Float64(3.5)},
		{"bool", true, Bool(true)},
		{"string", "x", Text("x")},
		{"bytes", []byte{1, 2}, Bytes([]byte{1, 2})},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := FromAny(c.in)
			assert.True(t, Equal(got, c.want) || (got.IsNull() && c.want.IsNull()))
		})
	}
}

func TestFromAny_UnknownTypeIsNull(t *testing.T) {
	type other struct{}
	assert.True(t, FromAny(other{}).IsNull())
}

// EqualAny must not panic on []byte, the failure mode plain `!=` has.
func TestEqualAny_BytesDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.True(t, EqualAny([]byte("k"), []byte("k")))
		assert.False(t, EqualAny([]byte("k"), []byte("j")))
	})
}

func TestEqualAny_Time(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, EqualAny(now, now))
}

func TestDiv_ByZero(t *testing.T) {
	_, err := Div(Int64(1), Int64(0))
	require.Error(t, err)

	_, err = Div(Float64(1), Float64(0))
	require.Error(t, err)

	v, err := Div(Int64(6), Int64(3))
	require.NoError(t, err)
	assert.Equal(t, Int64(2), v)
}

func TestAdd_NullPropagates(t *testing.T) {
	assert.True(t, Add(Null(), Int64(1)).IsNull())
	assert.Equal(t, Int64(3), Add(Int64(1), Int64(2)))
	assert.Equal(t, Text("ab"), Add(Text("a"), Text("b")))
}
