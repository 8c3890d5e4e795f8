package rational

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReduces(t *testing.T) {
	r := New(6, -4)
	assert.Equal(t, int64(-3), r.Num())
	assert.Equal(t, int64(2), r.Den())
	assert.Equal(t, "-3/2", r.String())
	assert.Equal(t, "5", New(10, 2).String())
	assert.True(t, New(0, -7).IsZero())
	assert.Equal(t, int64(1), New(0, -7).Den())
}

func TestNewZeroDenominatorPanics(t *testing.T) {
	assert.Panics(t, func() { New(1, 0) })
	assert.Panics(t, func() { One.Div(Zero) })
}

func TestArithmetic(t *testing.T) {
	a := New(1, 3)
	b := New(1, 6)
	assert.True(t, a.Add(b).Equal(New(1, 2)))
	assert.True(t, a.Sub(b).Equal(New(1, 6)))
	assert.True(t, a.Mul(b).Equal(New(1, 18)))
	assert.True(t, a.Div(b).Equal(FromInt(2)))
	assert.True(t, a.MulInt(9).Equal(FromInt(3)))
	assert.True(t, a.DivInt(2).Equal(b))
	assert.True(t, b.Inv().Equal(FromInt(6)))
	assert.True(t, New(-2, 5).Abs().Equal(New(2, 5)))
	assert.False(t, a.Add(b).Inexact())
}

func TestRounding(t *testing.T) {
	assert.Equal(t, int64(3), New(7, 2).Trunc())
	assert.Equal(t, int64(-3), New(-7, 2).Trunc())
	assert.Equal(t, int64(3), New(7, 2).Floor())
	assert.Equal(t, int64(-4), New(-7, 2).Floor())
	assert.Equal(t, int64(4), New(7, 2).Round())
	assert.Equal(t, int64(-4), New(-7, 2).Round())
	assert.Equal(t, int64(3), New(10, 3).Round())
	assert.True(t, New(-7, 2).Frac().Equal(New(1, 2)))
	assert.True(t, New(7, 3).Frac().Equal(New(1, 3)))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, New(1, 3).Cmp(New(1, 2)))
	assert.Equal(t, 1, New(2, 3).Cmp(New(1, 2)))
	assert.Equal(t, 0, New(2, 4).Cmp(New(1, 2)))
	assert.True(t, Min(New(1, 3), New(1, 2)).Equal(New(1, 3)))
	assert.True(t, Max(New(1, 3), New(1, 2)).Equal(New(1, 2)))

	huge := New(math.MaxInt64, 3)
	assert.Equal(t, 1, huge.Cmp(New(math.MaxInt64-1, 3)))
}

func TestRepeatedAddIsExact(t *testing.T) {
	// 44.1kHz 에서 1024 샘플 프레임 1000 개의 누적 길이
	frame := New(1024*1000000, 44100)
	total := Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(frame)
	}
	require.False(t, total.Inexact())
	assert.True(t, total.Equal(New(1024*1000000*1000, 44100)))
}

func TestOverflowFallsBackToBig(t *testing.T) {
	a := New(math.MaxInt64, 7)
	b := New(math.MaxInt64, 11)
	sum := a.Add(b)
	assert.True(t, sum.Inexact())
	assert.True(t, sum.GreaterThan(a))
	assert.InDelta(t, float64(math.MaxInt64)*18/77, sum.Float64(), 1e4)

	p := New(math.MaxInt64/2, 5).Mul(New(4, 1))
	assert.True(t, p.Inexact())
	assert.InDelta(t, float64(math.MaxInt64/2)*4/5, p.Float64(), 1e4)

	sat := FromInt(math.MaxInt64).MulInt(4)
	assert.True(t, sat.Inexact())
	assert.Equal(t, int64(math.MaxInt64), sat.Num())

	exact := New(1<<40, 3).Mul(New(3, 1<<40))
	assert.False(t, exact.Inexact())
	assert.True(t, exact.Equal(One))
}
