package pricing

// LTMRule configures the less-than-minimum fee for one embellishment class.
type LTMRule struct {
	Threshold int
	Fee       Money
}

// FeeSchedule configures order-level fees. Amounts are minor units.
type FeeSchedule struct {
	ScreenFeePerColor Money
	DigitizingFee     Money
	GarmentLTM        LTMRule
	CapLTM            LTMRule
}

// DefaultFeeSchedule mirrors the storefront's observed fees: $30 per
// screen color, $100 digitizing, $50 LTM under 24 units for both classes.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		ScreenFeePerColor: 3000,
		DigitizingFee:     10000,
		GarmentLTM:        LTMRule{Threshold: 24, Fee: 5000},
		CapLTM:            LTMRule{Threshold: 24, Fee: 5000},
	}
}

// ExtraFees are staff-entered flat amounts with no further business logic.
type ExtraFees struct {
	RushFee   Money `json:"rushFee"`
	ArtCharge Money `json:"artCharge"`
	SampleFee Money `json:"sampleFee"`
	Discount  Money `json:"discount"`
}

// Total sums the additive extras, excluding the discount.
func (e ExtraFees) Total() Money {
	return e.RushFee + e.ArtCharge + e.SampleFee
}

// Pool is a resolved quantity pool for one embellishment class. All lines
// sharing the class price against this single tier.
type Pool struct {
	Key       string
	Quantity  int
	Tier      Tier
	Meta      TierMeta
	ForcedLTM bool
}

// Fees is the order-level, non-per-unit fee aggregate. LTMFeeTotal holds
// the flat amounts; per-unit figures are derived via PerUnit at display
// time only.
type Fees struct {
	SetupFeeTotal      Money
	DigitizingFeeTotal Money
	LTMFeeTotal        Money
	ExtraChargesTotal  Money
	DiscountTotal      Money
}

// Aggregate computes order-level fees across all lines and pools. Each
// line's surcharge must be the one computed for that line, in order.
func (s FeeSchedule) Aggregate(pools []Pool, lines []LineConfig, surcharges []UnitSurcharge, extras ExtraFees) (Fees, error) {
	if len(lines) != len(surcharges) {
		return Fees{}, ErrInvalidInput
	}
	var fees Fees
	for i, line := range lines {
		for j := range line.Placements {
			if line.Placements[j].NeedsDigitizing {
				fees.DigitizingFeeTotal += s.DigitizingFee
			}
			colors := line.Placements[j].ColorCount
			if j < len(surcharges[i].EffectiveColorCounts) {
				colors = surcharges[i].EffectiveColorCounts[j]
			}
			if colors > 0 {
				fees.SetupFeeTotal += Money(colors) * s.ScreenFeePerColor
			}
		}
	}
	for _, pool := range pools {
		if pool.Quantity < 0 {
			return Fees{}, ErrInvalidQuantity
		}
		if pool.Quantity == 0 {
			continue
		}
		rule := s.GarmentLTM
		if pool.Key == PoolCap {
			rule = s.CapLTM
		}
		if pool.ForcedLTM || pool.Meta.HasLTM || pool.Quantity < rule.Threshold {
			fee := pool.Meta.LTMFee
			if fee == 0 {
				fee = rule.Fee
			}
			fees.LTMFeeTotal += fee
		}
	}
	fees.ExtraChargesTotal = extras.Total()
	fees.DiscountTotal = extras.Discount
	return fees, nil
}
