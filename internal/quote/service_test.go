package quote_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/pricing"
	"github.com/noah-isme/backend-quoting/internal/quote"
	"github.com/noah-isme/backend-quoting/internal/ratesheet"
)

type memRepo struct {
	sessions map[string]quote.Session
	items    map[string][]quote.Item
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: map[string]quote.Session{}, items: map[string][]quote.Item{}}
}

func (m *memRepo) CreateSession(_ context.Context, s quote.Session, items []quote.Item) error {
	m.sessions[s.QuoteID] = s
	m.items[s.QuoteID] = items
	return nil
}

func (m *memRepo) GetSession(_ context.Context, quoteID string) (quote.Session, []quote.Item, error) {
	s, ok := m.sessions[quoteID]
	if !ok {
		return quote.Session{}, nil, quote.ErrNotFound
	}
	return s, m.items[quoteID], nil
}

func (m *memRepo) ReplaceItems(_ context.Context, s quote.Session, items []quote.Item) error {
	existing, ok := m.sessions[s.QuoteID]
	if !ok {
		return quote.ErrNotFound
	}
	if existing.Status != quote.StatusOpen {
		return quote.ErrNotEditable
	}
	m.sessions[s.QuoteID] = s
	m.items[s.QuoteID] = items
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, quoteID string, from, to quote.Status) error {
	s, ok := m.sessions[quoteID]
	if !ok || s.Status != from {
		return quote.ErrNotEditable
	}
	s.Status = to
	m.sessions[quoteID] = s
	return nil
}

func (m *memRepo) ListSessions(_ context.Context, filter quote.ListFilter) ([]quote.Session, int64, error) {
	var out []quote.Session
	for _, s := range m.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) ExpireStale(_ context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, s := range m.sessions {
		if s.Status == quote.StatusOpen && s.ExpiresAt.Before(cutoff) {
			s.Status = quote.StatusExpired
			m.sessions[id] = s
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type stubSheets struct {
	sheets map[string]*ratesheet.Sheet
}

func (s *stubSheets) Get(_ context.Context, styleNumber string) (*ratesheet.Sheet, error) {
	sheet, ok := s.sheets[styleNumber]
	if !ok {
		return nil, ratesheet.ErrStyleNotFound
	}
	return sheet, nil
}

type memEventStore struct {
	topics   []string
	payloads map[string][]byte
}

func (m *memEventStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	m.topics = append(m.topics, topic)
	if m.payloads == nil {
		m.payloads = map[string][]byte{}
	}
	m.payloads[topic] = payload
	return events.DomainEvent{ID: int64(len(m.topics)), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}

func testSheet() *ratesheet.Sheet {
	return &ratesheet.Sheet{
		StyleNumber: "PC54",
		Table: &pricing.PriceTable{
			Rounding: pricing.RoundNone,
			Tiers: []pricing.Tier{
				{MinQty: 1, MaxQty: 23, Label: "1-23"},
				{MinQty: 24, MaxQty: 47, Label: "24-47"},
				{MinQty: 48, Label: "48+"},
			},
			PrintCosts: map[int]map[string]pricing.Money{
				1: {"1-23": 1400, "24-47": 1200, "48+": 1000},
			},
		},
		Rates: pricing.DefaultSurchargeRates(),
	}
}

func testLine(qty int) quote.LineInput {
	return quote.LineInput{
		StyleNumber:       "PC54",
		ProductName:       "Core Cotton Tee",
		Color:             "Navy",
		EmbellishmentType: "screenprint",
		SizeBreakdown:     map[string]int{"M": qty},
		Placements:        []quote.PlacementInput{{Location: "front", ColorCount: 1}},
	}
}

func newTestService(repo quote.Repository, store *memEventStore) *quote.Service {
	fixed := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	return &quote.Service{
		Repo:     repo,
		Sheets:   &stubSheets{sheets: map[string]*ratesheet.Sheet{"PC54": testSheet()}},
		IDs:      &quote.IDGenerator{Now: func() time.Time { return fixed }},
		Bus:      &events.Bus{Store: store},
		Schedule: pricing.DefaultFeeSchedule(),
		Policy:   pricing.BelowMinimumLowestTier,
		TaxBps:   1010,
		Expiry:   30 * 24 * time.Hour,
		Now:      func() time.Time { return fixed },
	}
}

func TestPriceComputesBreakdown(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	b, err := svc.Price(context.Background(), quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(36000), b.Subtotal)
	require.Equal(t, pricing.Money(39000), b.GrandTotal)
}

func TestPriceUnknownStyle(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	line := testLine(30)
	line.StyleNumber = "NOPE"
	_, err := svc.Price(context.Background(), quote.PriceRequest{Lines: []quote.LineInput{line}})
	require.ErrorIs(t, err, ratesheet.ErrStyleNotFound)
}

func TestCreatePersistsAndEmits(t *testing.T) {
	repo := newMemRepo()
	store := &memEventStore{}
	svc := newTestService(repo, store)

	q, err := svc.Create(context.Background(), quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	require.Regexp(t, `^SP0829-\d+$`, q.Session.QuoteID)
	require.Equal(t, quote.StatusOpen, q.Session.Status)
	// 36000 subtotal + 3000 setup = 39000, plus 10.1% tax = 42939.
	require.Equal(t, pricing.Money(3939), q.Session.TaxAmount)
	require.Equal(t, pricing.Money(42939), q.Session.TotalAmount)
	require.Equal(t, q.Session.ExpiresAt, q.Session.CreatedAt.Add(30*24*time.Hour))
	require.Len(t, q.Items, 1)
	require.Equal(t, "24-47", q.Items[0].PricingTier)
	require.Equal(t, []string{events.TopicQuoteCreated}, store.topics)

	// Session totals and breakdown agree to the cent.
	require.Equal(t, q.Breakdown.GrandTotalWithTax, q.Session.TotalAmount)
	require.Equal(t, q.Breakdown.TaxAmount, q.Session.TaxAmount)
}

func TestAddLineRepricesPool(t *testing.T) {
	repo := newMemRepo()
	store := &memEventStore{}
	svc := newTestService(repo, store)
	ctx := context.Background()

	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	updated, err := svc.AddLine(ctx, q.Session.QuoteID, testLine(30))
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	// 60 pooled units drop both lines to the 48+ tier.
	require.Equal(t, "48+", updated.Items[0].PricingTier)
	require.Equal(t, "48+", updated.Items[1].PricingTier)
	require.Equal(t, pricing.Money(60000), updated.Breakdown.Subtotal)
	require.Equal(t, updated.Breakdown.GrandTotalWithTax, updated.Session.TotalAmount)
}

func TestRemoveLastLineRefused(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	ctx := context.Background()
	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	_, err = svc.RemoveLine(ctx, q.Session.QuoteID, 1)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "LAST_LINE", appErr.Code)
}

func TestFinalizeOnce(t *testing.T) {
	repo := newMemRepo()
	store := &memEventStore{}
	svc := newTestService(repo, store)
	ctx := context.Background()

	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	final, err := svc.Finalize(ctx, q.Session.QuoteID)
	require.NoError(t, err)
	require.Equal(t, quote.StatusFinalized, final.Session.Status)
	require.Contains(t, store.topics, events.TopicQuoteFinalized)

	_, err = svc.Finalize(ctx, q.Session.QuoteID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "CONFLICT", appErr.Code)
}

func TestMutateFinalizedQuoteRefused(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	ctx := context.Background()
	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, q.Session.QuoteID)
	require.NoError(t, err)

	_, err = svc.AddLine(ctx, q.Session.QuoteID, testLine(10))
	require.ErrorIs(t, err, quote.ErrNotEditable)
}

func TestSetExtrasPersistsAcrossReprice(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	ctx := context.Background()
	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	withFees, err := svc.SetExtras(ctx, q.Session.QuoteID, pricing.ExtraFees{RushFee: 2500, Discount: 1000})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(2500), withFees.Session.RushFee)
	require.Equal(t, q.Breakdown.GrandTotal+2500-1000, withFees.Breakdown.GrandTotal)

	// A later line mutation must carry the staff fees forward.
	updated, err := svc.AddLine(ctx, q.Session.QuoteID, testLine(30))
	require.NoError(t, err)
	require.Equal(t, pricing.Money(2500), updated.Breakdown.RushFee)
	require.Equal(t, pricing.Money(1000), updated.Breakdown.DiscountTotal)
}

func TestExpireStaleEmitsEvents(t *testing.T) {
	repo := newMemRepo()
	store := &memEventStore{}
	svc := newTestService(repo, store)
	ctx := context.Background()

	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	// Move the clock past the expiry window.
	svc.Now = func() time.Time { return q.Session.ExpiresAt.Add(time.Hour) }
	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, store.topics, events.TopicQuoteExpired)

	got, err := svc.Get(ctx, q.Session.QuoteID)
	require.NoError(t, err)
	require.Equal(t, quote.StatusExpired, got.Session.Status)
}

func TestGetRebuildsStoredBreakdown(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	ctx := context.Background()
	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(12)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, pricing.Money(5000), q.Breakdown.LTMFeeTotal)

	got, err := svc.Get(ctx, q.Session.QuoteID)
	require.NoError(t, err)
	require.Equal(t, q.Breakdown.GrandTotal, got.Breakdown.GrandTotal)
	require.Equal(t, q.Breakdown.LTMFeeTotal, got.Breakdown.LTMFeeTotal)
	require.Equal(t, q.Breakdown.GrandTotalWithTax, got.Breakdown.GrandTotalWithTax)
	require.Len(t, got.Breakdown.Lines, 1)
	require.Equal(t, q.Breakdown.Lines[0].Sizes, got.Breakdown.Lines[0].Sizes)
	require.Equal(t, q.Breakdown.Lines[0].TierLabel, got.Breakdown.Lines[0].TierLabel)
}

func TestGetServesSavedTotalsAfterSheetChange(t *testing.T) {
	svc := newTestService(newMemRepo(), &memEventStore{})
	ctx := context.Background()
	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, q.Session.QuoteID)
	require.NoError(t, err)

	// The vendor publishes a steep price hike after the quote is saved.
	pricier := testSheet()
	pricier.Table.PrintCosts[1] = map[string]pricing.Money{"1-23": 9900, "24-47": 9900, "48+": 9900}
	svc.Sheets = &stubSheets{sheets: map[string]*ratesheet.Sheet{"PC54": pricier}}

	got, err := svc.Get(ctx, q.Session.QuoteID)
	require.NoError(t, err)
	// Redisplay must match the saved figures, not the live sheet.
	require.Equal(t, pricing.Money(36000), got.Breakdown.Subtotal)
	require.Equal(t, q.Session.TotalAmount, got.Breakdown.GrandTotalWithTax)
	require.Equal(t, q.Session.TaxAmount, got.Breakdown.TaxAmount)
	require.Len(t, got.Breakdown.Lines, 1)
	require.Equal(t, pricing.Money(1200), got.Breakdown.Lines[0].Sizes[0].UnitPrice)
}

func TestFinalizeEmitsFrozenTotalsWhenSheetsDown(t *testing.T) {
	repo := newMemRepo()
	store := &memEventStore{}
	svc := newTestService(repo, store)
	ctx := context.Background()

	q, err := svc.Create(ctx, quote.CreateRequest{
		PriceRequest:  quote.PriceRequest{Lines: []quote.LineInput{testLine(30)}},
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	// The pricing origin goes dark between save and finalize. The locked
	// quote carries the totals the customer accepted regardless.
	svc.Sheets = &stubSheets{}
	final, err := svc.Finalize(ctx, q.Session.QuoteID)
	require.NoError(t, err)
	require.Equal(t, q.Breakdown.GrandTotal, final.Breakdown.GrandTotal)
	require.Equal(t, q.Session.TotalAmount, final.Breakdown.GrandTotalWithTax)
	require.Len(t, final.Breakdown.Lines, 1)

	var payload struct {
		Breakdown pricing.Breakdown `json:"breakdown"`
	}
	require.NoError(t, json.Unmarshal(store.payloads[events.TopicQuoteFinalized], &payload))
	require.Equal(t, q.Breakdown.GrandTotal, payload.Breakdown.GrandTotal)
	require.Len(t, payload.Breakdown.Lines, 1)
}
