package quote

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/backend-quoting/internal/pricing"
)

// Status is the lifecycle state of a quote session.
type Status string

const (
	// StatusOpen marks a draft the customer can still edit.
	StatusOpen Status = "Open"
	// StatusFinalized marks a locked quote handed to order management.
	StatusFinalized Status = "Finalized"
	// StatusExpired marks a draft past its expiry date.
	StatusExpired Status = "Expired"
)

// Session is the persisted quote header. Monetary totals are flat amounts
// in minor units; per-unit figures are derived at display time.
type Session struct {
	QuoteID          string        `json:"quoteId"`
	SessionID        string        `json:"sessionId"`
	CustomerEmail    string        `json:"customerEmail"`
	CustomerName     string        `json:"customerName"`
	CompanyName      string        `json:"companyName,omitempty"`
	Phone            string        `json:"phone,omitempty"`
	ProjectName      string        `json:"projectName,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	TotalQuantity    int           `json:"totalQuantity"`
	Subtotal         pricing.Money `json:"subtotalAmount"`
	LTMFeeTotal      pricing.Money `json:"ltmFeeTotal"`
	SetupFeeTotal    pricing.Money `json:"setupFeeTotal"`
	DigitizingFee    pricing.Money `json:"digitizingFeeTotal"`
	ExtraStitchTotal pricing.Money `json:"extraStitchTotal"`
	RushFee          pricing.Money `json:"rushFee"`
	ArtCharge        pricing.Money `json:"artCharge"`
	SampleFee        pricing.Money `json:"sampleFee"`
	Discount         pricing.Money `json:"discount"`
	TaxAmount        pricing.Money `json:"taxAmount"`
	TotalAmount      pricing.Money `json:"totalAmount"`
	Status           Status        `json:"status"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Item is one persisted quote line. SizeDetail stores the original line
// configuration plus per-size prices so the line can be re-priced later.
type Item struct {
	ID                int64           `json:"id"`
	QuoteID           string          `json:"quoteId"`
	LineNumber        int             `json:"lineNumber"`
	StyleNumber       string          `json:"styleNumber"`
	ProductName       string          `json:"productName,omitempty"`
	Color             string          `json:"color,omitempty"`
	EmbellishmentType string          `json:"embellishmentType"`
	PrintLocation     string          `json:"printLocation,omitempty"`
	Quantity          int             `json:"quantity"`
	HasLTM            bool            `json:"hasLtm"`
	BaseUnitPrice     pricing.Money   `json:"baseUnitPrice"`
	LTMPerUnit        pricing.Money   `json:"ltmPerUnit"`
	FinalUnitPrice    pricing.Money   `json:"finalUnitPrice"`
	LineTotal         pricing.Money   `json:"lineTotal"`
	PricingTier       string          `json:"pricingTier"`
	SizeDetail        json.RawMessage `json:"sizeBreakdown"`
	AddedAt           time.Time       `json:"addedAt"`
}

// Quote bundles the session header, its lines and the live breakdown.
type Quote struct {
	Session   Session           `json:"session"`
	Items     []Item            `json:"items"`
	Breakdown pricing.Breakdown `json:"breakdown"`
}

// ListFilter narrows staff quote listings.
type ListFilter struct {
	Status  Status
	Email   string
	Page    int
	PerPage int
}

// sizeDetail is the JSON stored in Item.SizeDetail.
type sizeDetail struct {
	Config LineInput           `json:"config"`
	Sizes  []pricing.SizePrice `json:"sizes"`
}
