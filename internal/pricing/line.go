package pricing

// Placement describes one decorated location on a garment or cap: a screen
// print location with a color count, or an embroidered logo with a stitch
// count.
type Placement struct {
	Location        string
	ColorCount      int
	StitchCount     int
	NeedsDigitizing bool
}

// LineConfig is one product/configuration being quoted. It is a value
// object owned by the caller; the engine never retains references.
type LineConfig struct {
	StyleNumber      string
	Color            string
	SizeBreakdown    map[string]int
	IsCap            bool
	IsDarkGarment    bool
	HasSafetyStripes bool
	Placements       []Placement
}

// Quantity sums the size breakdown for the line.
func (c LineConfig) Quantity() int {
	total := 0
	for _, qty := range c.SizeBreakdown {
		total += qty
	}
	return total
}

// PoolKey returns the embellishment class the line's quantity pools into.
// Garments and caps never share a pool, so they never share a tier or a
// less-than-minimum calculation.
func (c LineConfig) PoolKey() string {
	if c.IsCap {
		return PoolCap
	}
	return PoolGarment
}

// Pool keys for the two embellishment classes.
const (
	PoolGarment = "garment"
	PoolCap     = "cap"
)

// Validate rejects structurally bad line input before any computation.
func (c LineConfig) Validate() error {
	if len(c.SizeBreakdown) == 0 {
		return ErrInvalidInput
	}
	for _, qty := range c.SizeBreakdown {
		if qty < 0 {
			return ErrInvalidInput
		}
	}
	for _, p := range c.Placements {
		if p.ColorCount < 0 || p.StitchCount < 0 {
			return ErrInvalidInput
		}
	}
	return nil
}
