package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrTierTableEmpty indicates the caller supplied no tiers. This is a
	// configuration bug, not a user error.
	ErrTierTableEmpty = errors.New("pricing: tier table is empty")
	// ErrTableMalformed indicates the external price table failed validation.
	ErrTableMalformed = errors.New("pricing: price table malformed")
	// ErrZeroQuantity is returned when a tier is requested for zero units.
	// Callers should branch to an empty-quote display state.
	ErrZeroQuantity = errors.New("pricing: quantity is zero")
	// ErrBelowMinimum is returned when the quantity sits below the lowest
	// tier and the reject policy is active.
	ErrBelowMinimum = errors.New("pricing: quantity below minimum order")
	// ErrInvalidInput covers negative quantities, stitch counts, or color
	// counts supplied by the caller.
	ErrInvalidInput = errors.New("pricing: invalid input")
	// ErrInvalidQuantity indicates pooled quantity data is inconsistent.
	ErrInvalidQuantity = errors.New("pricing: invalid pooled quantity")
	// ErrPricingDataGap means a tier resolved but the price table has no
	// matching entry. It must surface to the caller so the UI can fall back
	// to a quote-request flow instead of showing a fabricated price.
	ErrPricingDataGap = errors.New("pricing: no price for resolved tier")
)

// GapError describes the exact lookup that failed so callers can log which
// part of the vendor data is missing.
type GapError struct {
	TierLabel  string
	Size       string
	ColorCount int
}

func (e *GapError) Error() string {
	switch {
	case e.Size != "":
		return fmt.Sprintf("pricing: no price for tier %q size %q", e.TierLabel, e.Size)
	case e.ColorCount > 0:
		return fmt.Sprintf("pricing: no price for tier %q colors %d", e.TierLabel, e.ColorCount)
	default:
		return fmt.Sprintf("pricing: no price for tier %q", e.TierLabel)
	}
}

// Unwrap ties GapError into the ErrPricingDataGap sentinel.
func (e *GapError) Unwrap() error { return ErrPricingDataGap }
