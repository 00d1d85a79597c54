package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundingPolicy(t *testing.T) {
	require.Equal(t, RoundCeilHalfDollar, ParseRoundingPolicy("HalfDollarUp"))
	require.Equal(t, RoundCeilDollar, ParseRoundingPolicy("DollarUp"))
	require.Equal(t, RoundNone, ParseRoundingPolicy(""))
	require.Equal(t, RoundNone, ParseRoundingPolicy("BankersRounding"))
}

func TestRoundingApply(t *testing.T) {
	cases := []struct {
		policy RoundingPolicy
		in     Money
		want   Money
	}{
		{RoundNone, 1234, 1234},
		{RoundCeilDollar, 1201, 1300},
		{RoundCeilDollar, 1200, 1200},
		{RoundCeilDollar, 1, 100},
		{RoundCeilHalfDollar, 1201, 1250},
		{RoundCeilHalfDollar, 1250, 1250},
		{RoundCeilHalfDollar, 1251, 1300},
		{RoundCeilDollar, 0, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.policy.Apply(tc.in), "%s(%d)", tc.policy, tc.in)
	}
}
