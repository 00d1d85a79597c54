package pricing

// SurchargeRates configures the per-unit add-on rules. Every rate is a
// configured constant, never hard-coded per calculator.
type SurchargeRates struct {
	// BaseStitchCount is the stitch allowance included in the tier price.
	BaseStitchCount int
	// ExtraStitchRate is charged per thousand stitches above the base.
	ExtraStitchRate Money
	// SafetyStripeAddOn is a flat per-unit charge for safety stripe prints.
	SafetyStripeAddOn Money
}

// DefaultSurchargeRates mirrors the rates observed across the storefront
// calculators: 8000 base stitches, $1.25 per extra thousand, $2.00 stripes.
func DefaultSurchargeRates() SurchargeRates {
	return SurchargeRates{
		BaseStitchCount:   8000,
		ExtraStitchRate:   125,
		SafetyStripeAddOn: 200,
	}
}

// UnitSurcharge is the per-unit outcome of the surcharge rules for one
// line. EffectiveColorCounts parallels the line's placements and feeds the
// price-table lookup; it is not an add-on price by itself.
type UnitSurcharge struct {
	EffectiveColorCounts []int
	// PerUnitAddOn is the additive per-unit amount (stripes plus extra
	// stitches), applied after tier price lookup and before rounding.
	PerUnitAddOn Money
	// ExtraStitchPortion is the slice of PerUnitAddOn attributable to extra
	// stitches. It is informational only: the amount is already inside the
	// unit price and must never reappear as an order-level fee line.
	ExtraStitchPortion Money
}

// ComputeUnitSurcharge applies the dark-garment underbase, safety-stripe,
// and extra-stitch rules to a line configuration.
func (r SurchargeRates) ComputeUnitSurcharge(cfg LineConfig) (UnitSurcharge, error) {
	if err := cfg.Validate(); err != nil {
		return UnitSurcharge{}, err
	}
	base := r.BaseStitchCount
	if base <= 0 {
		base = 8000
	}

	out := UnitSurcharge{EffectiveColorCounts: make([]int, len(cfg.Placements))}
	for i, p := range cfg.Placements {
		colors := p.ColorCount
		// A dark garment needs a white underbase screen, which prices like
		// one extra color on every printed location.
		if cfg.IsDarkGarment && colors > 0 {
			colors++
		}
		out.EffectiveColorCounts[i] = colors

		if extra := p.StitchCount - base; extra > 0 {
			out.ExtraStitchPortion += Money(extra) * r.ExtraStitchRate / 1000
		}
	}
	out.PerUnitAddOn = out.ExtraStitchPortion
	if cfg.HasSafetyStripes {
		out.PerUnitAddOn += r.SafetyStripeAddOn
	}
	return out, nil
}
