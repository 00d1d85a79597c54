package pricing

import "strings"

// RoundingPolicy names the single rounding step applied to a finished unit
// price. It travels with the price table metadata rather than being
// hard-coded per calculator, so every surface rounds the same way.
type RoundingPolicy string

const (
	// RoundNone leaves unit prices untouched.
	RoundNone RoundingPolicy = "None"
	// RoundCeilDollar rounds a unit price up to the next whole dollar.
	RoundCeilDollar RoundingPolicy = "CeilDollar"
	// RoundCeilHalfDollar rounds a unit price up to the next half dollar.
	RoundCeilHalfDollar RoundingPolicy = "CeilHalfDollar"
)

// ParseRoundingPolicy maps vendor rule strings onto a policy. Unknown
// values fall back to RoundNone so a new vendor label cannot silently
// inflate prices.
func ParseRoundingPolicy(raw string) RoundingPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "halfdollarup", "halfdollarceil", "halfdollarceil_final", "ceilhalfdollar":
		return RoundCeilHalfDollar
	case "dollarup", "ceildollar", "wholedollar":
		return RoundCeilDollar
	default:
		return RoundNone
	}
}

// Apply rounds the amount up according to the policy. Amounts are minor
// units, so a whole dollar is 100 and a half dollar 50.
func (p RoundingPolicy) Apply(amount Money) Money {
	if amount <= 0 {
		return amount
	}
	switch p {
	case RoundCeilDollar:
		return ceilTo(amount, 100)
	case RoundCeilHalfDollar:
		return ceilTo(amount, 50)
	default:
		return amount
	}
}

func ceilTo(amount, step Money) Money {
	if rem := amount % step; rem != 0 {
		return amount + step - rem
	}
	return amount
}
