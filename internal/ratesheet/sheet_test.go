package ratesheet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/pricing"
)

const screenPrintBundle = `{
	"styleNumber": "PC54",
	"tiersR": [
		{"TierLabel": "24-47", "MinQuantity": 24, "MaxQuantity": 47, "MarginDenominator": 0.6},
		{"TierLabel": "48-71", "MinQuantity": 48, "MaxQuantity": 71, "MarginDenominator": 0.6},
		{"TierLabel": "72+", "MinQuantity": 72, "MaxQuantity": 99999, "MarginDenominator": 0.6}
	],
	"rulesR": {"RoundingMethod": "HalfDollarCeil_Final", "FlashCharge": "0.35"},
	"sizes": [
		{"size": "S", "price": 3.00},
		{"size": "2XL", "price": 4.50}
	],
	"sellingPriceDisplayAddOns": {"2XL": 2.00},
	"allScreenprintCostsR": [
		{"CostType": "PrimaryLocation", "TierLabel": "24-47", "ColorCount": 1, "BasePrintCost": 1.50},
		{"CostType": "PrimaryLocation", "TierLabel": "48-71", "ColorCount": 1, "BasePrintCost": 1.25},
		{"CostType": "PrimaryLocation", "TierLabel": "72+", "ColorCount": 1, "BasePrintCost": 1.00},
		{"CostType": "AdditionalLocation", "TierLabel": "24-47", "ColorCount": 1, "BasePrintCost": 3.00}
	]
}`

const capEmbroideryBundle = `{
	"styleNumber": "C112",
	"tiersR": [
		{"TierLabel": "24-71", "MinQuantity": 24, "MaxQuantity": 71, "MarginDenominator": 0.6, "LTM_Fee": 50},
		{"TierLabel": "72+", "MinQuantity": 72, "MaxQuantity": 99999, "MarginDenominator": 0.6}
	],
	"rulesR": {"RoundingMethod": "HalfDollarUp"},
	"allEmbroideryCostsR": [
		{"TierLabel": "24-71", "ItemType": "Cap", "StitchCount": 8000, "EmbroideryCost": 6.00, "BaseStitchCount": 8000, "AdditionalStitchRate": 1.25},
		{"TierLabel": "72+", "ItemType": "Cap", "StitchCount": 8000, "EmbroideryCost": 5.00, "BaseStitchCount": 8000, "AdditionalStitchRate": 1.25}
	]
}`

func TestParseScreenPrintBundle(t *testing.T) {
	sheet, err := ParseSheet([]byte(screenPrintBundle))
	require.NoError(t, err)
	require.Equal(t, "PC54", sheet.StyleNumber)

	table := sheet.Table
	require.Equal(t, pricing.RoundCeilHalfDollar, table.Rounding)
	require.Len(t, table.Tiers, 3)
	require.Equal(t, pricing.Tier{MinQty: 72, MaxQty: 0, Label: "72+"}, table.Tiers[2])

	// $3.00 garment cost at 0.6 margin sells for $5.00.
	require.Equal(t, pricing.Money(500), table.Sizes["S"]["24-47"])
	require.Equal(t, pricing.Money(200), table.SizeUpcharges["2XL"])

	// ($1.50 + $0.35 flash) / 0.6 = $3.083, stored unrounded at 308 cents;
	// rounding happens once, on the finished unit price.
	require.Equal(t, pricing.Money(308), table.PrintCosts[1]["24-47"])

	// Additional-location rows never overwrite the primary grid.
	require.NotEqual(t, pricing.Money(300), table.PrintCosts[1]["24-47"])
}

func TestParseCapEmbroideryBundle(t *testing.T) {
	sheet, err := ParseSheet([]byte(capEmbroideryBundle))
	require.NoError(t, err)

	table := sheet.Table
	require.Equal(t, pricing.Money(600), table.DecorationCosts["24-71"])
	require.Equal(t, pricing.Money(500), table.DecorationCosts["72+"])

	meta := table.MetaFor("24-71")
	require.True(t, meta.HasLTM)
	require.Equal(t, pricing.Money(5000), meta.LTMFee)
	require.False(t, table.MetaFor("72+").HasLTM)

	require.Equal(t, 8000, sheet.Rates.BaseStitchCount)
	require.Equal(t, pricing.Money(125), sheet.Rates.ExtraStitchRate)

	// The assembler reads rates off the table, per style.
	require.Equal(t, sheet.Rates, table.Rates)
}

func TestParseRejectsEmptyTiers(t *testing.T) {
	_, err := ParseSheet([]byte(`{"styleNumber": "X", "tiersR": []}`))
	require.ErrorIs(t, err, pricing.ErrTierTableEmpty)
}

func TestParseRejectsUnknownTierReference(t *testing.T) {
	_, err := ParseSheet([]byte(`{
		"styleNumber": "X",
		"tiersR": [{"TierLabel": "24-47", "MinQuantity": 24, "MaxQuantity": 47, "MarginDenominator": 0.6}],
		"allScreenprintCostsR": [{"CostType": "PrimaryLocation", "TierLabel": "1-23", "ColorCount": 1, "BasePrintCost": 1.00}]
	}`))
	require.ErrorIs(t, err, pricing.ErrTableMalformed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := ParseSheet([]byte("not json"))
	require.Error(t, err)
}
