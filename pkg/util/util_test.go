package util

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProRataNeverExceedsAmount(t *testing.T) {
	unit := decimal.RequireFromString("0.0000000001")
	delta := decimal.NewFromInt(10)
	a := ProRata(delta, decimal.NewFromInt(10), decimal.NewFromInt(22), unit)
	b := ProRata(delta, decimal.NewFromInt(12), decimal.NewFromInt(22), unit)

	require.Equal(t, "4.5454545454", a.String())
	require.Equal(t, "5.4545454545", b.String())
	require.True(t, a.Add(b).LessThanOrEqual(delta))
}

func TestProRataZeroWhole(t *testing.T) {
	require.True(t, ProRata(decimal.NewFromInt(5), decimal.NewFromInt(1), decimal.Zero, decimal.NewFromInt(1)).IsZero())
}

func TestFloorTo(t *testing.T) {
	cases := []struct {
		in, unit, want string
	}{
		{"2.58400000009", "0.0000000001", "2.584"},
		{"1.99", "0.5", "1.5"},
		{"3", "1", "3"},
		{"0.00000000001", "0.0000000001", "0"},
	}
	for _, c := range cases {
		got := FloorTo(decimal.RequireFromString(c.in), decimal.RequireFromString(c.unit))
		require.True(t, decimal.RequireFromString(c.want).Equal(got), "%s floored to %s: got %s", c.in, c.unit, got)
	}
}

func TestAfterIsStrictlyIncreasing(t *testing.T) {
	prev := Timestamp(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))

	require.True(t, After(prev, prev).After(prev))
	require.True(t, After(prev, prev.Add(-time.Hour)).After(prev))
	later := prev.Add(time.Minute)
	require.True(t, After(prev, later).Equal(later))
	require.True(t, After(time.Time{}, later).Equal(later))
}
