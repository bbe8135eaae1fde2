package circle

import (
	"math"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestVotesNeededRoundsUp(t *testing.T) {
	tests := []struct {
		weight   uint64
		fraction Fraction
		want     uint64
	}{
		{weight: 15, fraction: Percent(50), want: 8},
		{weight: 10, fraction: Percent(50), want: 5},
		{weight: 8, fraction: Percent(50), want: 4},
		{weight: 3, fraction: Percent(34), want: 2},
		{weight: 1, fraction: Percent(100), want: 1},
		{weight: 0, fraction: Percent(50), want: 0},
		{weight: 7, fraction: Fraction(1), want: 1},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, votesNeeded(tc.weight, tc.fraction),
			"votesNeeded(%d, %s)", tc.weight, tc.fraction)
	}
}

func TestPortionOfRoundsDown(t *testing.T) {
	tests := []struct {
		amount   uint64
		fraction Fraction
		want     uint64
	}{
		{amount: 100, fraction: Percent(50), want: 50},
		{amount: 101, fraction: Percent(50), want: 50},
		{amount: 100, fraction: Full, want: 100},
		{amount: 100, fraction: 0, want: 0},
		{amount: 3, fraction: Fraction(1), want: 0},
	}
	for _, tc := range tests {
		got := portionOf(uint256.NewInt(tc.amount), tc.fraction)
		require.Equal(t, uint256.NewInt(tc.want), got,
			"portionOf(%d, %s)", tc.amount, tc.fraction)
	}
}

func TestPercentDoesNotWrapAround(t *testing.T) {
	// Without widening, 42949673% would wrap uint32 arithmetic back into
	// [0, Full] and slip through rules validation.
	for _, p := range []uint32{101, 42_949_673, math.MaxUint32} {
		f := Percent(p)
		require.Greater(t, f, Full, "Percent(%d)", p)

		rules := Rules{VotingPeriod: time.Hour, Quorum: f, Threshold: f, AllowEndEarly: true}
		require.Error(t, rules.Validate(), "Percent(%d)", p)
	}
}

func TestFractionString(t *testing.T) {
	require.Equal(t, "50.00%", Percent(50).String())
	require.Equal(t, "0.01%", Fraction(1).String())
	require.Equal(t, "100.00%", Full.String())
}
