package ratesheet

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-quoting/internal/pricing"
)

// openEndedMax marks vendor tiers with no real upper bound ("72+" rows
// arrive with a sentinel max in the tens of thousands).
const openEndedMax = 99999

// VendorTier is one row of the vendor's tier definition result set.
type VendorTier struct {
	TierLabel         string  `json:"TierLabel"`
	MinQuantity       int     `json:"MinQuantity"`
	MaxQuantity       int     `json:"MaxQuantity"`
	MarginDenominator float64 `json:"MarginDenominator"`
	LTMFee            float64 `json:"LTM_Fee"`
}

// VendorRules carries sheet-wide pricing rules.
type VendorRules struct {
	RoundingMethod string `json:"RoundingMethod"`
	// FlashCharge arrives as a string in the vendor payload.
	FlashCharge string `json:"FlashCharge"`
}

// VendorSize is one garment size row with the vendor's base cost.
type VendorSize struct {
	Size  string  `json:"size"`
	Price float64 `json:"price"`
}

// VendorPrintCost is one screen print cost row.
type VendorPrintCost struct {
	CostType      string  `json:"CostType"`
	TierLabel     string  `json:"TierLabel"`
	ColorCount    int     `json:"ColorCount"`
	BasePrintCost float64 `json:"BasePrintCost"`
}

// VendorEmbroideryCost is one embroidery cost row. Costs arrive as selling
// prices; no margin is applied on top.
type VendorEmbroideryCost struct {
	TierLabel            string  `json:"TierLabel"`
	ItemType             string  `json:"ItemType"`
	StitchCount          int     `json:"StitchCount"`
	EmbroideryCost       float64 `json:"EmbroideryCost"`
	BaseStitchCount      int     `json:"BaseStitchCount"`
	AdditionalStitchRate float64 `json:"AdditionalStitchRate"`
	LTM                  float64 `json:"LTM"`
}

// VendorSheet is the raw pricing bundle served by the vendor API for one
// style number.
type VendorSheet struct {
	StyleNumber      string                 `json:"styleNumber"`
	Tiers            []VendorTier           `json:"tiersR"`
	Rules            VendorRules            `json:"rulesR"`
	Sizes            []VendorSize           `json:"sizes"`
	SizeUpcharges    map[string]float64     `json:"sellingPriceDisplayAddOns"`
	ScreenprintCosts []VendorPrintCost      `json:"allScreenprintCostsR"`
	EmbroideryCosts  []VendorEmbroideryCost `json:"allEmbroideryCostsR"`
}

// Sheet is the parsed, engine-ready form of a vendor bundle.
type Sheet struct {
	StyleNumber string                 `json:"styleNumber"`
	Table       *pricing.PriceTable    `json:"table"`
	Rates       pricing.SurchargeRates `json:"rates"`
}

// ParseSheet converts a raw vendor JSON payload into an engine price table.
// All dollar figures are converted to minor units and the tier margin is
// applied here, once, so the engine never sees vendor cost bases.
func ParseSheet(raw []byte) (*Sheet, error) {
	var vendor VendorSheet
	if err := json.Unmarshal(raw, &vendor); err != nil {
		return nil, fmt.Errorf("ratesheet: decode vendor payload: %w", err)
	}
	return buildSheet(vendor)
}

func buildSheet(vendor VendorSheet) (*Sheet, error) {
	if len(vendor.Tiers) == 0 {
		return nil, fmt.Errorf("ratesheet %q: %w", vendor.StyleNumber, pricing.ErrTierTableEmpty)
	}

	tiers := make([]VendorTier, len(vendor.Tiers))
	copy(tiers, vendor.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinQuantity < tiers[j].MinQuantity })

	table := &pricing.PriceTable{
		Rounding: pricing.ParseRoundingPolicy(vendor.Rules.RoundingMethod),
		Meta:     make(map[string]pricing.TierMeta, len(tiers)),
	}
	margins := make(map[string]float64, len(tiers))
	for _, vt := range tiers {
		label := strings.TrimSpace(vt.TierLabel)
		if label == "" || vt.MinQuantity < 0 {
			return nil, fmt.Errorf("ratesheet %q: tier %+v: %w", vendor.StyleNumber, vt, pricing.ErrTableMalformed)
		}
		maxQty := vt.MaxQuantity
		if maxQty <= 0 || maxQty >= openEndedMax {
			maxQty = 0
		}
		table.Tiers = append(table.Tiers, pricing.Tier{MinQty: vt.MinQuantity, MaxQty: maxQty, Label: label})
		margin := vt.MarginDenominator
		if margin <= 0 || margin > 1 {
			margin = 1
		}
		margins[label] = margin
		table.Meta[label] = pricing.TierMeta{
			LTMFee:            dollarsToCents(vt.LTMFee),
			HasLTM:            vt.LTMFee > 0,
			MarginDenominator: vt.MarginDenominator,
		}
	}

	if len(vendor.Sizes) > 0 {
		table.Sizes = make(map[string]map[string]pricing.Money, len(vendor.Sizes))
		for _, sz := range vendor.Sizes {
			size := strings.TrimSpace(sz.Size)
			if size == "" {
				continue
			}
			byTier := make(map[string]pricing.Money, len(tiers))
			for _, vt := range tiers {
				byTier[vt.TierLabel] = dollarsToCents(sz.Price / margins[vt.TierLabel])
			}
			table.Sizes[size] = byTier
		}
	}
	if len(vendor.SizeUpcharges) > 0 {
		table.SizeUpcharges = make(map[string]pricing.Money, len(vendor.SizeUpcharges))
		for size, amount := range vendor.SizeUpcharges {
			if amount == 0 {
				continue
			}
			table.SizeUpcharges[size] = dollarsToCents(amount)
		}
	}

	flash := parseVendorFloat(vendor.Rules.FlashCharge)
	for _, pc := range vendor.ScreenprintCosts {
		// Additional-location rows arrive with margin already applied and
		// match the primary sell prices, so a single grid serves both.
		if pc.CostType != "" && pc.CostType != "PrimaryLocation" {
			continue
		}
		if pc.ColorCount <= 0 {
			continue
		}
		margin, ok := margins[pc.TierLabel]
		if !ok {
			return nil, fmt.Errorf("ratesheet %q: print cost references unknown tier %q: %w", vendor.StyleNumber, pc.TierLabel, pricing.ErrTableMalformed)
		}
		sell := (pc.BasePrintCost + flash*float64(pc.ColorCount)) / margin
		if table.PrintCosts == nil {
			table.PrintCosts = make(map[int]map[string]pricing.Money)
		}
		if table.PrintCosts[pc.ColorCount] == nil {
			table.PrintCosts[pc.ColorCount] = make(map[string]pricing.Money)
		}
		table.PrintCosts[pc.ColorCount][pc.TierLabel] = dollarsToCents(sell)
	}

	rates := pricing.DefaultSurchargeRates()
	for _, ec := range vendor.EmbroideryCosts {
		if _, ok := margins[ec.TierLabel]; !ok {
			return nil, fmt.Errorf("ratesheet %q: embroidery cost references unknown tier %q: %w", vendor.StyleNumber, ec.TierLabel, pricing.ErrTableMalformed)
		}
		if table.DecorationCosts == nil {
			table.DecorationCosts = make(map[string]pricing.Money)
		}
		table.DecorationCosts[ec.TierLabel] = dollarsToCents(ec.EmbroideryCost)
		if ec.BaseStitchCount > 0 {
			rates.BaseStitchCount = ec.BaseStitchCount
		}
		if ec.AdditionalStitchRate > 0 {
			rates.ExtraStitchRate = dollarsToCents(ec.AdditionalStitchRate)
		}
	}

	// The rates travel on the table so the assembler can pick the right
	// stitch allowance per line in a mixed-style order.
	table.Rates = rates

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("ratesheet %q: %w", vendor.StyleNumber, err)
	}
	return &Sheet{StyleNumber: vendor.StyleNumber, Table: table, Rates: rates}, nil
}

func dollarsToCents(amount float64) pricing.Money {
	return pricing.Money(math.Round(amount * 100))
}

func parseVendorFloat(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return v
}
