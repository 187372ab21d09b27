package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	t.Run("Ints", func(t *testing.T) {
		t.Parallel()
		ok, err := Compare(IntValue(3), IntValue(5), OpLess)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = Compare(IntValue(5), IntValue(5), OpGreaterOrEqual)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = Compare(IntValue(5), IntValue(5), OpNotEqual)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("IntPromotedToFloat", func(t *testing.T) {
		t.Parallel()
		ok, err := Compare(IntValue(2), FloatValue(2.5), OpLess)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = Compare(FloatValue(3.0), IntValue(3), OpEqual)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = Compare(FloatValue(2.9), IntValue(3), OpGreater)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("StringsEqualityOnly", func(t *testing.T) {
		t.Parallel()
		ok, err := Compare(StringValue("a"), StringValue("a"), OpEqual)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = Compare(StringValue("a"), StringValue("b"), OpNotEqual)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = Compare(StringValue("a"), StringValue("b"), OpLess)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("BoolsEqualityOnly", func(t *testing.T) {
		t.Parallel()
		ok, err := Compare(BoolValue(true), BoolValue(false), OpNotEqual)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = Compare(BoolValue(true), BoolValue(false), OpGreaterOrEqual)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("MixedKinds", func(t *testing.T) {
		t.Parallel()
		_, err := Compare(StringValue("1"), IntValue(1), OpEqual)
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = Compare(BoolValue(true), FloatValue(1), OpEqual)
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = Compare(Value{}, IntValue(1), OpEqual)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("UnknownOperator", func(t *testing.T) {
		t.Parallel()
		_, err := Compare(IntValue(1), IntValue(1), ComparisonOperator(42))
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestParseOperator(t *testing.T) {
	t.Parallel()

	for sym, want := range map[string]ComparisonOperator{
		"=": OpEqual, "==": OpEqual, "!=": OpNotEqual, "<>": OpNotEqual,
		"<": OpLess, "<=": OpLessOrEqual, ">": OpGreater, ">=": OpGreaterOrEqual,
	} {
		got, err := ParseOperator(sym)
		require.NoError(t, err, sym)
		assert.Equal(t, want, got, sym)
	}

	_, err := ParseOperator("=~")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "<=", OpLessOrEqual.String())
}

func TestCoerceValue(t *testing.T) {
	t.Parallel()

	v, err := CoerceValue(42)
	require.NoError(t, err)
	assert.Equal(t, IntValue(42), v)

	v, err = CoerceValue(1.5)
	require.NoError(t, err)
	assert.Equal(t, TypeFloat, v.Kind())
	assert.InDelta(t, 1.5, v.Float(), 1e-9)

	v, err = CoerceValue("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v.Str())

	v, err = CoerceValue(true)
	require.NoError(t, err)
	assert.True(t, v.Bool())

	_, err = CoerceValue(int64(math.MaxInt32) + 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = CoerceValue([]int{1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValue_EqualAndString(t *testing.T) {
	t.Parallel()

	assert.True(t, IntValue(1).Equal(IntValue(1)))
	assert.False(t, IntValue(1).Equal(FloatValue(1)))
	assert.False(t, StringValue("a").Equal(StringValue("b")))
	assert.Equal(t, "2.5", FloatValue(2.5).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, int32(7), IntValue(7).Interface())
	assert.False(t, Value{}.IsValid())
}

func TestConvertNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FloatValue(3), ConvertNumber(IntValue(3), TypeFloat))
	assert.Equal(t, IntValue(3), ConvertNumber(FloatValue(3), TypeInt))
	assert.Equal(t, FloatValue(3.5), ConvertNumber(FloatValue(3.5), TypeInt))
	assert.Equal(t, FloatValue(1e12), ConvertNumber(FloatValue(1e12), TypeInt))
	assert.Equal(t, StringValue("3"), ConvertNumber(StringValue("3"), TypeInt))
	assert.Equal(t, IntValue(3), ConvertNumber(IntValue(3), TypeInt))
}
