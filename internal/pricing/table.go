package pricing

import "fmt"

// PriceTable is the externally supplied lookup data for one style or print
// program. The engine treats it as read-only; it is parsed once from the
// vendor blob and shared between calls.
//
// Two shapes appear in the vendor data and both are supported here: a
// size-keyed garment table (Sizes) and a color-count-keyed screen print
// table (PrintCosts). Embroidery programs carry a flat per-tier decoration
// cost (DecorationCosts).
type PriceTable struct {
	Rounding        RoundingPolicy
	Tiers           []Tier
	Meta            map[string]TierMeta
	Sizes           map[string]map[string]Money
	SizeUpcharges   map[string]Money
	PrintCosts      map[int]map[string]Money
	DecorationCosts map[string]Money

	// Rates carries the surcharge parameters published with this style's
	// sheet. A zero value means the program defaults apply.
	Rates SurchargeRates
}

// Validate ensures the table can resolve at least one tier and that every
// metadata entry references a known tier label.
func (t *PriceTable) Validate() error {
	if t == nil || len(t.Tiers) == 0 {
		return ErrTierTableEmpty
	}
	labels := make(map[string]struct{}, len(t.Tiers))
	for _, tier := range t.Tiers {
		if tier.Label == "" || tier.MinQty < 0 {
			return fmt.Errorf("%w: tier %+v", ErrTableMalformed, tier)
		}
		labels[tier.Label] = struct{}{}
	}
	for label, meta := range t.Meta {
		if _, ok := labels[label]; !ok {
			return fmt.Errorf("%w: metadata for unknown tier %q", ErrTableMalformed, label)
		}
		if meta.MarginDenominator < 0 || meta.MarginDenominator > 1 {
			return fmt.Errorf("%w: margin denominator %v for tier %q", ErrTableMalformed, meta.MarginDenominator, label)
		}
	}
	return nil
}

// MetaFor returns the metadata attached to a tier label, zero when absent.
func (t *PriceTable) MetaFor(label string) TierMeta {
	if t == nil {
		return TierMeta{}
	}
	return t.Meta[label]
}

// SizePrice looks up the garment unit price for a tier and size, including
// any size upcharge. A missing entry is a data gap, never zero.
func (t *PriceTable) SizePrice(tierLabel, size string) (Money, error) {
	if t == nil || t.Sizes == nil {
		return 0, &GapError{TierLabel: tierLabel, Size: size}
	}
	byTier, ok := t.Sizes[size]
	if !ok {
		return 0, &GapError{TierLabel: tierLabel, Size: size}
	}
	price, ok := byTier[tierLabel]
	if !ok {
		return 0, &GapError{TierLabel: tierLabel, Size: size}
	}
	return price + t.SizeUpcharges[size], nil
}

// PrintCost looks up the per-unit screen print cost for a tier and an
// effective color count.
func (t *PriceTable) PrintCost(tierLabel string, colors int) (Money, error) {
	if colors <= 0 {
		return 0, nil
	}
	if t == nil || t.PrintCosts == nil {
		return 0, &GapError{TierLabel: tierLabel, ColorCount: colors}
	}
	byTier, ok := t.PrintCosts[colors]
	if !ok {
		return 0, &GapError{TierLabel: tierLabel, ColorCount: colors}
	}
	cost, ok := byTier[tierLabel]
	if !ok {
		return 0, &GapError{TierLabel: tierLabel, ColorCount: colors}
	}
	return cost, nil
}

// DecorationCost looks up the flat per-tier embroidery cost. Tables without
// decoration pricing return zero so garments without embroidery programs
// are not treated as gaps.
func (t *PriceTable) DecorationCost(tierLabel string) (Money, error) {
	if t == nil || t.DecorationCosts == nil {
		return 0, nil
	}
	cost, ok := t.DecorationCosts[tierLabel]
	if !ok {
		return 0, &GapError{TierLabel: tierLabel}
	}
	return cost, nil
}
