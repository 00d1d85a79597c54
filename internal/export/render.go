// Package export renders a priced breakdown for the three places it is
// shown: the on-screen summary, the printable quote document, and the
// saved record returned on reload. All three derive from the same fee
// lines and the same total, so they cannot drift apart.
package export

import (
	"fmt"
	"strings"

	"github.com/noah-isme/backend-quoting/internal/pricing"
	"github.com/noah-isme/backend-quoting/internal/quote"
)

// FormatMoney renders minor units as dollars, e.g. 1250 -> "$12.50".
func FormatMoney(m pricing.Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s$%d.%02d", sign, m/100, m%100)
}

// FeeLine is one labelled amount in a rendered breakdown.
type FeeLine struct {
	Label  string        `json:"label"`
	Amount pricing.Money `json:"amount"`
}

// FeeLines returns the ordered fee lines for a breakdown. Zero-amount
// lines are omitted except the subtotal. Every surface renders exactly
// this list.
func FeeLines(b pricing.Breakdown) []FeeLine {
	lines := []FeeLine{{Label: "Subtotal", Amount: b.Subtotal}}
	add := func(label string, amount pricing.Money) {
		if amount != 0 {
			lines = append(lines, FeeLine{Label: label, Amount: amount})
		}
	}
	add("Setup fees", b.SetupFeeTotal)
	add("Digitizing", b.DigitizingFeeTotal)
	add("Small order fee", b.LTMFeeTotal)
	add("Rush fee", b.RushFee)
	add("Art charge", b.ArtCharge)
	add("Sample fee", b.SampleFee)
	add("Discount", -b.DiscountTotal)
	return lines
}

// Total returns the amount a customer pays. Tax, when configured, is
// applied to the fee-inclusive grand total in exactly one place.
func Total(b pricing.Breakdown) (tax pricing.Money, total pricing.Money) {
	return pricing.TaxInclusiveTotal(b.GrandTotal, b.TaxBps)
}

// Summary is the on-screen rendering of a breakdown.
type Summary struct {
	Lines      []FeeLine     `json:"lines"`
	TaxAmount  pricing.Money `json:"taxAmount,omitempty"`
	GrandTotal pricing.Money `json:"grandTotal"`
	Formatted  string        `json:"formattedTotal"`
}

// Summarize builds the on-screen summary.
func Summarize(b pricing.Breakdown) Summary {
	tax, total := Total(b)
	return Summary{
		Lines:      FeeLines(b),
		TaxAmount:  tax,
		GrandTotal: total,
		Formatted:  FormatMoney(total),
	}
}

// Record is the persistence-shaped rendering: one field per aggregate,
// matching the quote session columns, so save, reload and redisplay
// reproduce the same numbers.
type Record struct {
	TotalQuantity      int           `json:"totalQuantity"`
	SubtotalAmount     pricing.Money `json:"subtotalAmount"`
	SetupFeeTotal      pricing.Money `json:"setupFeeTotal"`
	DigitizingFeeTotal pricing.Money `json:"digitizingFeeTotal"`
	LTMFeeTotal        pricing.Money `json:"ltmFeeTotal"`
	ExtraStitchTotal   pricing.Money `json:"extraStitchTotal"`
	RushFee            pricing.Money `json:"rushFee"`
	ArtCharge          pricing.Money `json:"artCharge"`
	SampleFee          pricing.Money `json:"sampleFee"`
	Discount           pricing.Money `json:"discount"`
	TaxAmount          pricing.Money `json:"taxAmount"`
	TotalAmount        pricing.Money `json:"totalAmount"`
}

// ToRecord flattens a breakdown into its persistence shape.
func ToRecord(b pricing.Breakdown) Record {
	tax, total := Total(b)
	return Record{
		TotalQuantity:      b.TotalQuantity,
		SubtotalAmount:     b.Subtotal,
		SetupFeeTotal:      b.SetupFeeTotal,
		DigitizingFeeTotal: b.DigitizingFeeTotal,
		LTMFeeTotal:        b.LTMFeeTotal,
		ExtraStitchTotal:   b.ExtraStitchTotal,
		RushFee:            b.RushFee,
		ArtCharge:          b.ArtCharge,
		SampleFee:          b.SampleFee,
		Discount:           b.DiscountTotal,
		TaxAmount:          tax,
		TotalAmount:        total,
	}
}

// Summarize rebuilds the on-screen view from a reloaded record. The
// totals are carried verbatim; a reload never recomputes tax.
func (r Record) Summarize() Summary {
	b := pricing.Breakdown{
		TotalQuantity:      r.TotalQuantity,
		Subtotal:           r.SubtotalAmount,
		SetupFeeTotal:      r.SetupFeeTotal,
		DigitizingFeeTotal: r.DigitizingFeeTotal,
		LTMFeeTotal:        r.LTMFeeTotal,
		ExtraStitchTotal:   r.ExtraStitchTotal,
		RushFee:            r.RushFee,
		ArtCharge:          r.ArtCharge,
		SampleFee:          r.SampleFee,
		DiscountTotal:      r.Discount,
	}
	return Summary{
		Lines:      FeeLines(b),
		TaxAmount:  r.TaxAmount,
		GrandTotal: r.TotalAmount,
		Formatted:  FormatMoney(r.TotalAmount),
	}
}

// Document renders the printable quote: header, per-line detail with
// size prices, then the same fee lines and total as the summary.
func Document(q *quote.Quote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "QUOTE %s\n", q.Session.QuoteID)
	fmt.Fprintf(&sb, "Customer: %s <%s>\n", q.Session.CustomerName, q.Session.CustomerEmail)
	if q.Session.CompanyName != "" {
		fmt.Fprintf(&sb, "Company: %s\n", q.Session.CompanyName)
	}
	if q.Session.ProjectName != "" {
		fmt.Fprintf(&sb, "Project: %s\n", q.Session.ProjectName)
	}
	fmt.Fprintf(&sb, "Valid until: %s\n\n", q.Session.ExpiresAt.Format("January 2, 2006"))

	for _, line := range q.Breakdown.Lines {
		fmt.Fprintf(&sb, "%s %s (tier %s, qty %d)\n",
			line.StyleNumber, line.Color, line.TierLabel, line.Quantity)
		for _, size := range line.Sizes {
			fmt.Fprintf(&sb, "  %-4s x%-4d %10s each %12s\n",
				size.Size, size.Quantity, FormatMoney(size.UnitPrice), FormatMoney(size.Total))
		}
	}
	sb.WriteString("\n")

	tax, total := Total(q.Breakdown)
	for _, fee := range FeeLines(q.Breakdown) {
		fmt.Fprintf(&sb, "%-18s %12s\n", fee.Label, FormatMoney(fee.Amount))
	}
	if tax > 0 {
		fmt.Fprintf(&sb, "%-18s %12s\n", "Sales tax", FormatMoney(tax))
	}
	fmt.Fprintf(&sb, "%-18s %12s\n", "TOTAL", FormatMoney(total))
	if q.Session.Notes != "" {
		fmt.Fprintf(&sb, "\nNotes: %s\n", q.Session.Notes)
	}
	return sb.String()
}
