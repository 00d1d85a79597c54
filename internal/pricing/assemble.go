package pricing

import (
	"fmt"
	"sort"
)

// AssembleInput bundles everything the assembler needs. The engine is a
// pure function of this value: no hidden state, safe to call on every
// keystroke.
type AssembleInput struct {
	Lines []LineConfig
	// Tables maps a line's style number to its price table. StyleTable may
	// be left empty when Default covers every line.
	Tables  map[string]*PriceTable
	Default *PriceTable

	Schedule FeeSchedule
	Rates    SurchargeRates
	Extras   ExtraFees
	Policy   BelowMinimumPolicy

	// TaxBps is the flat sales-tax rate in basis points, applied to the
	// fee-inclusive grand total. Zero disables tax.
	TaxBps int
}

// SizePrice is the priced portion of a line for one size group.
type SizePrice struct {
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
	Total     Money  `json:"total"`
}

// LineResult is one assembled line item.
type LineResult struct {
	StyleNumber string      `json:"styleNumber"`
	Color       string      `json:"color"`
	IsCap       bool        `json:"isCap"`
	PoolKey     string      `json:"poolKey"`
	TierLabel   string      `json:"tierLabel"`
	Quantity    int         `json:"quantity"`
	Sizes       []SizePrice `json:"sizes"`
	LineTotal   Money       `json:"lineTotal"`
	// AdditionalStitchCharge is the per-unit extra-stitch amount already
	// folded into the size unit prices. Informational only.
	AdditionalStitchCharge Money `json:"additionalStitchCharge"`
}

// Breakdown is the output record rendered identically on screen, in the
// PDF, and in the saved quote.
type Breakdown struct {
	Lines []LineResult `json:"lines"`

	TotalQuantity      int   `json:"totalQuantity"`
	Subtotal           Money `json:"subtotal"`
	SetupFeeTotal      Money `json:"setupFeeTotal"`
	DigitizingFeeTotal Money `json:"digitizingFeeTotal"`
	LTMFeeTotal        Money `json:"ltmFeeTotal"`
	ExtraStitchTotal   Money `json:"extraStitchTotal"`
	RushFee            Money `json:"rushFee"`
	ArtCharge          Money `json:"artCharge"`
	SampleFee          Money `json:"sampleFee"`
	DiscountTotal      Money `json:"discountTotal"`
	GrandTotal         Money `json:"grandTotal"`

	TaxBps            int   `json:"taxBps,omitempty"`
	TaxAmount         Money `json:"taxAmount,omitempty"`
	GrandTotalWithTax Money `json:"grandTotalWithTax,omitempty"`
}

// TaxInclusiveTotal is the single tax computation used by every display
// surface. Tax applies to the fee-inclusive grand total, never to the
// subtotal alone.
func TaxInclusiveTotal(grandTotal Money, taxBps int) (tax Money, total Money) {
	if taxBps <= 0 || grandTotal <= 0 {
		return 0, grandTotal
	}
	tax = grandTotal * Money(taxBps) / 10000
	return tax, grandTotal + tax
}

// Assemble runs the full pipeline: pool quantities, resolve tiers, price
// each line with surcharges and the table's rounding policy, aggregate
// fees, and produce the breakdown.
func Assemble(in AssembleInput) (Breakdown, error) {
	if len(in.Lines) == 0 {
		return Breakdown{}, ErrInvalidInput
	}

	surcharges := make([]UnitSurcharge, len(in.Lines))
	for i, line := range in.Lines {
		sc, err := in.ratesFor(line.StyleNumber).ComputeUnitSurcharge(line)
		if err != nil {
			return Breakdown{}, fmt.Errorf("line %d: %w", i, err)
		}
		surcharges[i] = sc
	}

	pools, err := resolvePools(in)
	if err != nil {
		return Breakdown{}, err
	}

	out := Breakdown{Lines: make([]LineResult, 0, len(in.Lines))}
	for i, line := range in.Lines {
		pool := pools[line.PoolKey()]
		table := in.tableFor(line.StyleNumber)
		if table == nil {
			return Breakdown{}, ErrTierTableEmpty
		}
		result, err := assembleLine(line, surcharges[i], pool, table)
		if err != nil {
			return Breakdown{}, err
		}
		out.Lines = append(out.Lines, result)
		out.Subtotal += result.LineTotal
		out.TotalQuantity += result.Quantity
		out.ExtraStitchTotal += result.AdditionalStitchCharge * Money(result.Quantity)
	}

	poolList := make([]Pool, 0, len(pools))
	for _, key := range []string{PoolGarment, PoolCap} {
		if pool, ok := pools[key]; ok {
			poolList = append(poolList, pool)
		}
	}
	fees, err := in.Schedule.Aggregate(poolList, in.Lines, surcharges, in.Extras)
	if err != nil {
		return Breakdown{}, err
	}

	out.SetupFeeTotal = fees.SetupFeeTotal
	out.DigitizingFeeTotal = fees.DigitizingFeeTotal
	out.LTMFeeTotal = fees.LTMFeeTotal
	out.RushFee = in.Extras.RushFee
	out.ArtCharge = in.Extras.ArtCharge
	out.SampleFee = in.Extras.SampleFee
	out.DiscountTotal = fees.DiscountTotal

	out.GrandTotal = out.Subtotal + out.LTMFeeTotal + out.SetupFeeTotal +
		out.DigitizingFeeTotal + fees.ExtraChargesTotal - out.DiscountTotal

	if in.TaxBps > 0 {
		out.TaxBps = in.TaxBps
		out.TaxAmount, out.GrandTotalWithTax = TaxInclusiveTotal(out.GrandTotal, in.TaxBps)
	}
	return out, nil
}

func (in AssembleInput) tableFor(styleNumber string) *PriceTable {
	if t, ok := in.Tables[styleNumber]; ok && t != nil {
		return t
	}
	return in.Default
}

// ratesFor prefers the surcharge rates published with a line's own
// sheet. Mixed-style orders must never price one line's extra stitches
// with another style's stitch allowance.
func (in AssembleInput) ratesFor(styleNumber string) SurchargeRates {
	if t := in.tableFor(styleNumber); t != nil && t.Rates.BaseStitchCount > 0 {
		return t.Rates
	}
	return in.Rates
}

// resolvePools sums quantities per embellishment class and resolves the
// shared tier each class prices against. Two lines in the same class can
// never land on different tiers.
func resolvePools(in AssembleInput) (map[string]Pool, error) {
	quantities := map[string]int{}
	tables := map[string]*PriceTable{}
	for _, line := range in.Lines {
		qty := line.Quantity()
		if qty < 0 {
			return nil, ErrInvalidQuantity
		}
		key := line.PoolKey()
		quantities[key] += qty
		if _, ok := tables[key]; !ok {
			tables[key] = in.tableFor(line.StyleNumber)
		}
	}
	pools := make(map[string]Pool, len(quantities))
	for key, qty := range quantities {
		table := tables[key]
		if table == nil {
			return nil, ErrTierTableEmpty
		}
		if err := table.Validate(); err != nil {
			return nil, err
		}
		res, err := ResolveTier(qty, table.Tiers, in.Policy)
		if err != nil {
			return nil, err
		}
		pools[key] = Pool{
			Key:       key,
			Quantity:  qty,
			Tier:      res.Tier,
			Meta:      table.MetaFor(res.Tier.Label),
			ForcedLTM: res.ForcedLTM,
		}
	}
	return pools, nil
}

func assembleLine(line LineConfig, sc UnitSurcharge, pool Pool, table *PriceTable) (LineResult, error) {
	result := LineResult{
		StyleNumber:            line.StyleNumber,
		Color:                  line.Color,
		IsCap:                  line.IsCap,
		PoolKey:                line.PoolKey(),
		TierLabel:              pool.Tier.Label,
		AdditionalStitchCharge: sc.ExtraStitchPortion,
	}

	// Per-unit decoration cost shared by every size of the line.
	var decoration Money
	for i, p := range line.Placements {
		if colors := sc.EffectiveColorCounts[i]; colors > 0 {
			cost, err := table.PrintCost(pool.Tier.Label, colors)
			if err != nil {
				return LineResult{}, err
			}
			decoration += cost
		}
		if p.StitchCount > 0 {
			cost, err := table.DecorationCost(pool.Tier.Label)
			if err != nil {
				return LineResult{}, err
			}
			decoration += cost
		}
	}

	sizes := make([]string, 0, len(line.SizeBreakdown))
	for size := range line.SizeBreakdown {
		sizes = append(sizes, size)
	}
	sort.Strings(sizes)

	for _, size := range sizes {
		qty := line.SizeBreakdown[size]
		if qty == 0 {
			continue
		}
		var base Money
		if table != nil && table.Sizes != nil {
			price, err := table.SizePrice(pool.Tier.Label, size)
			if err != nil {
				return LineResult{}, err
			}
			base = price
		}
		// Surcharges apply after the tier lookup; the table's rounding
		// policy runs exactly once, on the finished unit price.
		unit := table.Rounding.Apply(base + decoration + sc.PerUnitAddOn)
		total := unit * Money(qty)
		result.Sizes = append(result.Sizes, SizePrice{Size: size, Quantity: qty, UnitPrice: unit, Total: total})
		result.Quantity += qty
		result.LineTotal += total
	}
	return result, nil
}
