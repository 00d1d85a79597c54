package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// PerUnit derives the per-unit share of a flat fee for display purposes.
// The flat amount stays canonical; this derived figure is never stored, so
// repeated division cannot drift the persisted totals.
func PerUnit(flat Money, quantity int) Money {
	if quantity <= 0 {
		return 0
	}
	return flat / Money(quantity)
}
