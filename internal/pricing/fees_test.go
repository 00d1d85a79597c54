package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupFeePerEffectiveColor(t *testing.T) {
	schedule := DefaultFeeSchedule()
	lines := []LineConfig{{
		SizeBreakdown: map[string]int{"M": 30},
		IsDarkGarment: true,
		Placements: []Placement{
			{Location: "front", ColorCount: 2},
			{Location: "back", ColorCount: 1},
		},
	}}
	sc, err := DefaultSurchargeRates().ComputeUnitSurcharge(lines[0])
	require.NoError(t, err)

	pools := []Pool{{Key: PoolGarment, Quantity: 30, Tier: Tier{MinQty: 24, MaxQty: 47, Label: "24-47"}}}
	fees, err := schedule.Aggregate(pools, lines, []UnitSurcharge{sc}, ExtraFees{})
	require.NoError(t, err)
	// Front gains the underbase color: (2+1) + 2 = 5 screens at $30.
	require.Equal(t, Money(15000), fees.SetupFeeTotal)
}

func TestDigitizingFeePerLogoNotPerUnit(t *testing.T) {
	schedule := DefaultFeeSchedule()
	lines := []LineConfig{{
		SizeBreakdown: map[string]int{"M": 500},
		Placements: []Placement{
			{Location: "left chest", StitchCount: 8000, NeedsDigitizing: true},
			{Location: "right sleeve", StitchCount: 5000, NeedsDigitizing: true},
		},
	}}
	sc, err := DefaultSurchargeRates().ComputeUnitSurcharge(lines[0])
	require.NoError(t, err)

	pools := []Pool{{Key: PoolGarment, Quantity: 500, Tier: Tier{MinQty: 500, Label: "500+"}}}
	fees, err := schedule.Aggregate(pools, lines, []UnitSurcharge{sc}, ExtraFees{})
	require.NoError(t, err)
	require.Equal(t, Money(20000), fees.DigitizingFeeTotal)
}

func TestLTMBelowThreshold(t *testing.T) {
	schedule := DefaultFeeSchedule()
	pools := []Pool{{Key: PoolGarment, Quantity: 12, Tier: Tier{MinQty: 1, MaxQty: 23, Label: "1-23"}}}
	fees, err := schedule.Aggregate(pools, nil, nil, ExtraFees{})
	require.NoError(t, err)
	require.Equal(t, Money(5000), fees.LTMFeeTotal)
}

func TestLTMAtThresholdNotCharged(t *testing.T) {
	schedule := DefaultFeeSchedule()
	pools := []Pool{{Key: PoolGarment, Quantity: 24, Tier: Tier{MinQty: 24, MaxQty: 47, Label: "24-47"}}}
	fees, err := schedule.Aggregate(pools, nil, nil, ExtraFees{})
	require.NoError(t, err)
	require.Zero(t, fees.LTMFeeTotal)
}

func TestLTMPoolsNeverShared(t *testing.T) {
	schedule := DefaultFeeSchedule()
	// Cap 15 and garment 20: each pool is below 24 on its own and each
	// pays its own fee even though the combined order is 35 units.
	pools := []Pool{
		{Key: PoolGarment, Quantity: 20, Tier: Tier{MinQty: 1, MaxQty: 23, Label: "1-23"}},
		{Key: PoolCap, Quantity: 15, Tier: Tier{MinQty: 1, MaxQty: 23, Label: "1-23"}},
	}
	fees, err := schedule.Aggregate(pools, nil, nil, ExtraFees{})
	require.NoError(t, err)
	require.Equal(t, Money(10000), fees.LTMFeeTotal)
}

func TestLTMFeeFromTierMeta(t *testing.T) {
	schedule := DefaultFeeSchedule()
	pools := []Pool{{
		Key:      PoolGarment,
		Quantity: 30,
		Tier:     Tier{MinQty: 24, MaxQty: 71, Label: "24-71"},
		Meta:     TierMeta{HasLTM: true, LTMFee: 10000},
	}}
	fees, err := schedule.Aggregate(pools, nil, nil, ExtraFees{})
	require.NoError(t, err)
	require.Equal(t, Money(10000), fees.LTMFeeTotal)
}

func TestAggregateRejectsNegativePool(t *testing.T) {
	schedule := DefaultFeeSchedule()
	pools := []Pool{{Key: PoolGarment, Quantity: -3}}
	_, err := schedule.Aggregate(pools, nil, nil, ExtraFees{})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestExtrasAndDiscountPassThrough(t *testing.T) {
	schedule := DefaultFeeSchedule()
	extras := ExtraFees{RushFee: 2500, ArtCharge: 5000, SampleFee: 1500, Discount: 1000}
	fees, err := schedule.Aggregate(nil, nil, nil, extras)
	require.NoError(t, err)
	require.Equal(t, Money(9000), fees.ExtraChargesTotal)
	require.Equal(t, Money(1000), fees.DiscountTotal)
}

func TestPerUnitDerivation(t *testing.T) {
	require.Equal(t, Money(208), PerUnit(5000, 24))
	require.Equal(t, Money(0), PerUnit(5000, 0))
}
