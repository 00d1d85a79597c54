package pricing

// Tier is a contiguous quantity band. MaxQty of zero means unbounded.
type Tier struct {
	MinQty int
	MaxQty int
	Label  string
}

// Contains reports whether qty falls inside the band.
func (t Tier) Contains(qty int) bool {
	if qty < t.MinQty {
		return false
	}
	return t.MaxQty == 0 || qty <= t.MaxQty
}

// TierMeta carries per-tier order-level data attached by label lookup.
type TierMeta struct {
	LTMFee            Money
	HasLTM            bool
	MarginDenominator float64
}

// BelowMinimumPolicy selects how quantities under the lowest tier are
// treated. The source calculators disagreed on this; it is a single
// configured decision here, never inferred per call site.
type BelowMinimumPolicy int

const (
	// BelowMinimumLowestTier maps the quantity onto the lowest tier and
	// forces the less-than-minimum fee.
	BelowMinimumLowestTier BelowMinimumPolicy = iota
	// BelowMinimumReject refuses to price the quantity outright.
	BelowMinimumReject
)

// Resolution is the outcome of mapping a quantity onto the tier table.
type Resolution struct {
	Tier Tier
	// ForcedLTM is set when the below-minimum policy mapped the quantity
	// onto the lowest tier; the fee aggregator must charge LTM regardless
	// of the tier's own metadata.
	ForcedLTM bool
}

// ResolveTier maps a total quantity to its pricing tier. Tiers are scanned
// in table order and the first match wins, which also pins the behavior for
// malformed (overlapping or gapped) tables to something deterministic.
func ResolveTier(quantity int, tiers []Tier, policy BelowMinimumPolicy) (Resolution, error) {
	if len(tiers) == 0 {
		return Resolution{}, ErrTierTableEmpty
	}
	if quantity < 0 {
		return Resolution{}, ErrInvalidInput
	}
	if quantity == 0 {
		return Resolution{}, ErrZeroQuantity
	}
	for _, t := range tiers {
		if t.Contains(quantity) {
			return Resolution{Tier: t}, nil
		}
	}
	lowest := tiers[0]
	for _, t := range tiers[1:] {
		if t.MinQty < lowest.MinQty {
			lowest = t
		}
	}
	if quantity < lowest.MinQty {
		if policy == BelowMinimumLowestTier {
			return Resolution{Tier: lowest, ForcedLTM: true}, nil
		}
		return Resolution{}, ErrBelowMinimum
	}
	// Above every band: the table is gapped or its top band is bounded.
	return Resolution{}, ErrTableMalformed
}
