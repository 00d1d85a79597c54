package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/obs"
	"github.com/noah-isme/backend-quoting/internal/pricing"
	"github.com/noah-isme/backend-quoting/internal/ratesheet"
)

// ErrNotFound indicates the requested quote could not be located.
var ErrNotFound = errors.New("quote not found")

// ErrNotEditable is returned for write operations on finalized or expired quotes.
var ErrNotEditable = errors.New("quote is not editable")

// Repository is the persistence surface the service needs.
type Repository interface {
	CreateSession(ctx context.Context, session Session, items []Item) error
	GetSession(ctx context.Context, quoteID string) (Session, []Item, error)
	ReplaceItems(ctx context.Context, session Session, items []Item) error
	UpdateStatus(ctx context.Context, quoteID string, from, to Status) error
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, int64, error)
	ExpireStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SheetSource provides parsed rate sheets per style number.
type SheetSource interface {
	Get(ctx context.Context, styleNumber string) (*ratesheet.Sheet, error)
}

// PlacementInput describes one decoration location on a line.
type PlacementInput struct {
	Location        string `json:"location" validate:"required"`
	ColorCount      int    `json:"colorCount" validate:"min=0,max=8"`
	StitchCount     int    `json:"stitchCount" validate:"min=0"`
	NeedsDigitizing bool   `json:"needsDigitizing"`
}

// LineInput is one requested quote line.
type LineInput struct {
	StyleNumber       string           `json:"styleNumber" validate:"required"`
	ProductName       string           `json:"productName"`
	Color             string           `json:"color"`
	EmbellishmentType string           `json:"embellishmentType" validate:"required"`
	IsCap             bool             `json:"isCap"`
	IsDarkGarment     bool             `json:"isDarkGarment"`
	HasSafetyStripes  bool             `json:"hasSafetyStripes"`
	SizeBreakdown     map[string]int   `json:"sizeBreakdown" validate:"required,min=1"`
	Placements        []PlacementInput `json:"placements" validate:"required,min=1,dive"`
}

// PriceRequest is the payload for an ephemeral price computation.
type PriceRequest struct {
	Lines  []LineInput       `json:"lines" validate:"required,min=1,dive"`
	Extras pricing.ExtraFees `json:"extras"`
}

// CreateRequest creates a persisted quote session.
type CreateRequest struct {
	PriceRequest
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerName  string `json:"customerName"`
	CompanyName   string `json:"companyName"`
	Phone         string `json:"phone"`
	ProjectName   string `json:"projectName"`
	Notes         string `json:"notes"`
}

// Service orchestrates pricing, persistence and events for quote sessions.
type Service struct {
	Repo     Repository
	Sheets   SheetSource
	IDs      *IDGenerator
	Bus      *events.Bus
	Schedule pricing.FeeSchedule
	Policy   pricing.BelowMinimumPolicy
	TaxBps   int
	Expiry   time.Duration
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) expiry() time.Duration {
	if s == nil || s.Expiry <= 0 {
		return 30 * 24 * time.Hour
	}
	return s.Expiry
}

func (l LineInput) toConfig() pricing.LineConfig {
	cfg := pricing.LineConfig{
		StyleNumber:      l.StyleNumber,
		Color:            l.Color,
		SizeBreakdown:    l.SizeBreakdown,
		IsCap:            l.IsCap,
		IsDarkGarment:    l.IsDarkGarment,
		HasSafetyStripes: l.HasSafetyStripes,
	}
	for _, p := range l.Placements {
		cfg.Placements = append(cfg.Placements, pricing.Placement{
			Location:        p.Location,
			ColorCount:      p.ColorCount,
			StitchCount:     p.StitchCount,
			NeedsDigitizing: p.NeedsDigitizing,
		})
	}
	return cfg
}

// Price computes a full breakdown without persisting anything. It is safe
// to call on every configurator change.
func (s *Service) Price(ctx context.Context, req PriceRequest) (pricing.Breakdown, error) {
	start := time.Now()
	breakdown, err := s.price(ctx, req)
	if obs.QuoteComputeDuration != nil {
		obs.QuoteComputeDuration.Observe(obs.DurationMillis(time.Since(start)))
	}
	if obs.QuoteComputeTotal != nil {
		obs.QuoteComputeTotal.WithLabelValues(computeResult(err)).Inc()
	}
	return breakdown, err
}

func (s *Service) price(ctx context.Context, req PriceRequest) (pricing.Breakdown, error) {
	if s == nil || s.Sheets == nil {
		return pricing.Breakdown{}, errors.New("quote service not configured")
	}
	if len(req.Lines) == 0 {
		return pricing.Breakdown{}, &common.AppError{
			Code: "INVALID_INPUT", Message: "at least one line is required",
			HTTPStatus: http.StatusBadRequest, Err: pricing.ErrInvalidInput,
		}
	}

	lines := make([]pricing.LineConfig, 0, len(req.Lines))
	tables := make(map[string]*pricing.PriceTable)
	for _, line := range req.Lines {
		cfg := cleanConfig(line.toConfig())
		if err := cfg.Validate(); err != nil {
			return pricing.Breakdown{}, &common.AppError{
				Code: "INVALID_INPUT", Message: err.Error(),
				HTTPStatus: http.StatusBadRequest, Err: err,
			}
		}
		lines = append(lines, cfg)
		if _, ok := tables[cfg.StyleNumber]; ok {
			continue
		}
		sheet, err := s.Sheets.Get(ctx, cfg.StyleNumber)
		if err != nil {
			return pricing.Breakdown{}, err
		}
		tables[cfg.StyleNumber] = sheet.Table
	}

	// Each table carries its sheet's surcharge rates; the defaults only
	// back styles whose sheet publishes none.
	breakdown, err := pricing.Assemble(pricing.AssembleInput{
		Lines:    lines,
		Tables:   tables,
		Schedule: s.Schedule,
		Rates:    pricing.DefaultSurchargeRates(),
		Extras:   req.Extras,
		Policy:   s.Policy,
		TaxBps:   s.TaxBps,
	})
	if err != nil {
		return pricing.Breakdown{}, classifyPricingError(err)
	}
	return breakdown, nil
}

// Create prices the request, persists a new session and emits quote.created.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Quote, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("quote service not configured")
	}
	breakdown, err := s.Price(ctx, req.PriceRequest)
	if err != nil {
		return nil, err
	}

	prefix := "QT"
	if len(req.Lines) > 0 {
		prefix = PrefixFor(req.Lines[0].EmbellishmentType)
	}
	quoteID, err := s.IDs.Next(ctx, prefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := Session{
		QuoteID:       quoteID,
		SessionID:     "sess_" + uuid.NewString(),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerName:  defaultString(req.CustomerName, "Guest"),
		CompanyName:   req.CompanyName,
		Phone:         req.Phone,
		ProjectName:   req.ProjectName,
		Notes:         req.Notes,
		Status:        StatusOpen,
		ExpiresAt:     now.Add(s.expiry()),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	applyBreakdown(&session, breakdown)

	items, err := buildItems(quoteID, req.Lines, breakdown, now)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.CreateSession(ctx, session, items); err != nil {
		return nil, fmt.Errorf("quote: create session: %w", err)
	}

	s.emit(ctx, events.TopicQuoteCreated, session, breakdown)
	return &Quote{Session: session, Items: items, Breakdown: breakdown}, nil
}

// Get loads a quote with its items and the breakdown rebuilt from the
// stored lines. Reads never call the pricing engine: a saved quote must
// redisplay with exactly the totals it was saved with, even after the
// vendor publishes new rate sheets. Mutations re-price; reads replay.
func (s *Service) Get(ctx context.Context, quoteID string) (*Quote, error) {
	session, items, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusOpen && s.now().After(session.ExpiresAt) {
		session.Status = StatusExpired
	}
	breakdown, err := s.storedBreakdown(session, items)
	if err != nil {
		// The header totals still render; only the per-line detail is lost.
		s.Logger.Warn().Err(err).Str("quote_id", quoteID).Msg("quote_breakdown_rebuild_failed")
	}
	return &Quote{Session: session, Items: items, Breakdown: breakdown}, nil
}

// AddLine appends a line to an open quote and re-prices the whole session.
func (s *Service) AddLine(ctx context.Context, quoteID string, line LineInput) (*Quote, error) {
	return s.mutateLines(ctx, quoteID, func(lines []LineInput) ([]LineInput, error) {
		return append(lines, line), nil
	})
}

// UpdateLine replaces the line with the given number and re-prices.
func (s *Service) UpdateLine(ctx context.Context, quoteID string, lineNumber int, line LineInput) (*Quote, error) {
	return s.mutateLines(ctx, quoteID, func(lines []LineInput) ([]LineInput, error) {
		if lineNumber < 1 || lineNumber > len(lines) {
			return nil, lineNotFound(lineNumber)
		}
		lines[lineNumber-1] = line
		return lines, nil
	})
}

// RemoveLine deletes the line with the given number and re-prices. The last
// remaining line cannot be removed; delete the quote instead.
func (s *Service) RemoveLine(ctx context.Context, quoteID string, lineNumber int) (*Quote, error) {
	return s.mutateLines(ctx, quoteID, func(lines []LineInput) ([]LineInput, error) {
		if lineNumber < 1 || lineNumber > len(lines) {
			return nil, lineNotFound(lineNumber)
		}
		if len(lines) == 1 {
			return nil, &common.AppError{
				Code: "LAST_LINE", Message: "a quote needs at least one line",
				HTTPStatus: http.StatusUnprocessableEntity,
			}
		}
		return append(lines[:lineNumber-1], lines[lineNumber:]...), nil
	})
}

// Finalize locks an open quote and emits quote.finalized.
func (s *Service) Finalize(ctx context.Context, quoteID string) (*Quote, error) {
	session, items, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusOpen {
		s.observeFinalize("conflict")
		return nil, &common.AppError{
			Code: "CONFLICT", Message: fmt.Sprintf("quote is %s", strings.ToLower(string(session.Status))),
			HTTPStatus: http.StatusConflict, Err: ErrNotEditable,
		}
	}
	if s.now().After(session.ExpiresAt) {
		s.observeFinalize("expired")
		return nil, &common.AppError{
			Code: "EXPIRED", Message: "quote has expired",
			HTTPStatus: http.StatusConflict, Err: ErrNotEditable,
		}
	}
	if err := s.Repo.UpdateStatus(ctx, quoteID, StatusOpen, StatusFinalized); err != nil {
		s.observeFinalize("error")
		return nil, fmt.Errorf("quote: finalize: %w", err)
	}
	session.Status = StatusFinalized
	session.UpdatedAt = s.now()

	// The finalized event carries the frozen totals the customer accepted,
	// never a fresh engine run against whatever sheets are live now.
	breakdown, err := s.storedBreakdown(session, items)
	if err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", quoteID).Msg("quote_breakdown_rebuild_failed")
	}
	s.emit(ctx, events.TopicQuoteFinalized, session, breakdown)
	s.observeFinalize("ok")
	return &Quote{Session: session, Items: items, Breakdown: breakdown}, nil
}

// List returns quote sessions for the staff dashboard.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Session, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, errors.New("quote service not configured")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 20
	}
	return s.Repo.ListSessions(ctx, filter)
}

// ExpireStale transitions overdue open drafts to Expired and emits one
// quote.expired event per transition. Called from the worker loop.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil {
		return 0, errors.New("quote service not configured")
	}
	ids, err := s.Repo.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("quote: expire stale: %w", err)
	}
	for _, id := range ids {
		if s.Bus != nil {
			if _, err := s.Bus.Emit(ctx, events.TopicQuoteExpired, id, map[string]any{"quoteId": id}); err != nil {
				s.Logger.Warn().Err(err).Str("quote_id", id).Msg("quote_expired_event_failed")
			}
		}
	}
	return len(ids), nil
}

func (s *Service) load(ctx context.Context, quoteID string) (Session, []Item, error) {
	if s == nil || s.Repo == nil {
		return Session{}, nil, errors.New("quote service not configured")
	}
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return Session{}, nil, &common.AppError{
			Code: "INVALID_INPUT", Message: "quote id is required",
			HTTPStatus: http.StatusBadRequest,
		}
	}
	session, items, err := s.Repo.GetSession(ctx, quoteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, nil, &common.AppError{
				Code: "NOT_FOUND", Message: "quote not found",
				HTTPStatus: http.StatusNotFound, Err: err,
			}
		}
		return Session{}, nil, err
	}
	return session, items, nil
}

// SetExtras replaces the staff-entered flat fees on an open quote and
// re-prices it.
func (s *Service) SetExtras(ctx context.Context, quoteID string, extras pricing.ExtraFees) (*Quote, error) {
	return s.mutate(ctx, quoteID, func(lines []LineInput, _ pricing.ExtraFees) ([]LineInput, pricing.ExtraFees, error) {
		return lines, extras, nil
	})
}

func (s *Service) mutateLines(ctx context.Context, quoteID string, mutate func([]LineInput) ([]LineInput, error)) (*Quote, error) {
	return s.mutate(ctx, quoteID, func(lines []LineInput, extras pricing.ExtraFees) ([]LineInput, pricing.ExtraFees, error) {
		out, err := mutate(lines)
		return out, extras, err
	})
}

func (s *Service) mutate(ctx context.Context, quoteID string, mutate func([]LineInput, pricing.ExtraFees) ([]LineInput, pricing.ExtraFees, error)) (*Quote, error) {
	session, items, err := s.load(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if session.Status != StatusOpen || s.now().After(session.ExpiresAt) {
		return nil, &common.AppError{
			Code: "CONFLICT", Message: "quote is not editable",
			HTTPStatus: http.StatusConflict, Err: ErrNotEditable,
		}
	}

	lines, err := linesFromItems(items)
	if err != nil {
		return nil, err
	}
	lines, extras, err := mutate(lines, extrasFor(session))
	if err != nil {
		return nil, err
	}

	breakdown, err := s.Price(ctx, PriceRequest{Lines: lines, Extras: extras})
	if err != nil {
		return nil, err
	}

	now := s.now()
	newItems, err := buildItems(quoteID, lines, breakdown, now)
	if err != nil {
		return nil, err
	}
	applyBreakdown(&session, breakdown)
	session.UpdatedAt = now
	if err := s.Repo.ReplaceItems(ctx, session, newItems); err != nil {
		return nil, fmt.Errorf("quote: replace items: %w", err)
	}
	s.emit(ctx, events.TopicQuoteUpdated, session, breakdown)
	return &Quote{Session: session, Items: newItems, Breakdown: breakdown}, nil
}

// storedBreakdown reconstructs the saved display record from the
// persisted session and items. Even when a line's stored detail is
// corrupt the header totals come back intact alongside the error.
func (s *Service) storedBreakdown(session Session, items []Item) (pricing.Breakdown, error) {
	b := sessionBreakdown(session, s.TaxBps)
	for _, item := range items {
		var detail sizeDetail
		if err := json.Unmarshal(item.SizeDetail, &detail); err != nil {
			b.Lines = nil
			return b, fmt.Errorf("quote: line %d detail: %w", item.LineNumber, err)
		}
		b.Lines = append(b.Lines, pricing.LineResult{
			StyleNumber: item.StyleNumber,
			Color:       item.Color,
			IsCap:       detail.Config.IsCap,
			PoolKey:     detail.Config.toConfig().PoolKey(),
			TierLabel:   item.PricingTier,
			Quantity:    item.Quantity,
			Sizes:       detail.Sizes,
			LineTotal:   item.LineTotal,
		})
	}
	return b, nil
}

// sessionBreakdown is the inverse of applyBreakdown for the header
// aggregates. TotalAmount holds the tax-inclusive figure whenever tax
// was charged, so the pre-tax grand total is recovered by subtraction.
func sessionBreakdown(session Session, taxBps int) pricing.Breakdown {
	b := pricing.Breakdown{
		TotalQuantity:      session.TotalQuantity,
		Subtotal:           session.Subtotal,
		SetupFeeTotal:      session.SetupFeeTotal,
		DigitizingFeeTotal: session.DigitizingFee,
		LTMFeeTotal:        session.LTMFeeTotal,
		ExtraStitchTotal:   session.ExtraStitchTotal,
		RushFee:            session.RushFee,
		ArtCharge:          session.ArtCharge,
		SampleFee:          session.SampleFee,
		DiscountTotal:      session.Discount,
		GrandTotal:         session.TotalAmount - session.TaxAmount,
	}
	if session.TaxAmount > 0 {
		b.TaxBps = taxBps
		b.TaxAmount = session.TaxAmount
		b.GrandTotalWithTax = session.TotalAmount
	}
	return b
}

func extrasFor(session Session) pricing.ExtraFees {
	return pricing.ExtraFees{
		RushFee:   session.RushFee,
		ArtCharge: session.ArtCharge,
		SampleFee: session.SampleFee,
		Discount:  session.Discount,
	}
}

func (s *Service) emit(ctx context.Context, topic string, session Session, breakdown pricing.Breakdown) {
	if s.Bus == nil {
		return
	}
	payload := map[string]any{
		"quoteId":       session.QuoteID,
		"customerEmail": session.CustomerEmail,
		"totalQuantity": session.TotalQuantity,
		"totalAmount":   session.TotalAmount,
		"breakdown":     breakdown,
	}
	if _, err := s.Bus.Emit(ctx, topic, session.QuoteID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("quote_id", session.QuoteID).Str("topic", topic).Msg("quote_event_failed")
	}
}

func (s *Service) observeFinalize(result string) {
	if obs.QuoteFinalizedTotal != nil {
		obs.QuoteFinalizedTotal.WithLabelValues(result).Inc()
	}
}

func applyBreakdown(session *Session, b pricing.Breakdown) {
	session.TotalQuantity = b.TotalQuantity
	session.Subtotal = b.Subtotal
	session.LTMFeeTotal = b.LTMFeeTotal
	session.SetupFeeTotal = b.SetupFeeTotal
	session.DigitizingFee = b.DigitizingFeeTotal
	session.ExtraStitchTotal = b.ExtraStitchTotal
	session.RushFee = b.RushFee
	session.ArtCharge = b.ArtCharge
	session.SampleFee = b.SampleFee
	session.Discount = b.DiscountTotal
	session.TaxAmount = b.TaxAmount
	session.TotalAmount = b.GrandTotal
	if b.TaxBps > 0 {
		session.TotalAmount = b.GrandTotalWithTax
	}
}

func buildItems(quoteID string, lines []LineInput, b pricing.Breakdown, now time.Time) ([]Item, error) {
	if len(lines) != len(b.Lines) {
		return nil, fmt.Errorf("quote: %d lines priced as %d results", len(lines), len(b.Lines))
	}
	// The flat fee spread over the order is informational only; the
	// canonical amount stays on the session header.
	var ltmPerUnit pricing.Money
	if b.LTMFeeTotal > 0 {
		ltmPerUnit = pricing.PerUnit(b.LTMFeeTotal, b.TotalQuantity)
	}

	items := make([]Item, 0, len(lines))
	for i, line := range lines {
		result := b.Lines[i]
		detail, err := json.Marshal(sizeDetail{Config: line, Sizes: result.Sizes})
		if err != nil {
			return nil, err
		}
		var unit pricing.Money
		if len(result.Sizes) > 0 {
			unit = result.Sizes[0].UnitPrice
		}
		location := ""
		if len(line.Placements) > 0 {
			location = line.Placements[0].Location
		}
		items = append(items, Item{
			QuoteID:           quoteID,
			LineNumber:        i + 1,
			StyleNumber:       line.StyleNumber,
			ProductName:       line.ProductName,
			Color:             line.Color,
			EmbellishmentType: line.EmbellishmentType,
			PrintLocation:     location,
			Quantity:          result.Quantity,
			HasLTM:            ltmPerUnit > 0,
			BaseUnitPrice:     unit,
			LTMPerUnit:        ltmPerUnit,
			FinalUnitPrice:    unit,
			LineTotal:         result.LineTotal,
			PricingTier:       result.TierLabel,
			SizeDetail:        detail,
			AddedAt:           now,
		})
	}
	return items, nil
}

func linesFromItems(items []Item) ([]LineInput, error) {
	lines := make([]LineInput, 0, len(items))
	for _, item := range items {
		var detail sizeDetail
		if err := json.Unmarshal(item.SizeDetail, &detail); err != nil {
			return nil, fmt.Errorf("quote: line %d detail: %w", item.LineNumber, err)
		}
		lines = append(lines, detail.Config)
	}
	return lines, nil
}

func cleanConfig(cfg pricing.LineConfig) pricing.LineConfig {
	cfg.StyleNumber = strings.TrimSpace(cfg.StyleNumber)
	return cfg
}

func classifyPricingError(err error) error {
	var gap *pricing.GapError
	switch {
	case errors.As(err, &gap):
		if obs.PricingGapTotal != nil {
			obs.PricingGapTotal.WithLabelValues(gap.TierLabel).Inc()
		}
		return &common.AppError{
			Code: "PRICING_DATA_GAP", Message: gap.Error(),
			HTTPStatus: http.StatusUnprocessableEntity, Err: err,
		}
	case errors.Is(err, pricing.ErrBelowMinimum):
		return &common.AppError{
			Code: "BELOW_MINIMUM", Message: "quantity is below the order minimum",
			HTTPStatus: http.StatusUnprocessableEntity, Err: err,
		}
	case errors.Is(err, pricing.ErrZeroQuantity), errors.Is(err, pricing.ErrInvalidQuantity), errors.Is(err, pricing.ErrInvalidInput):
		return &common.AppError{
			Code: "INVALID_INPUT", Message: err.Error(),
			HTTPStatus: http.StatusBadRequest, Err: err,
		}
	case errors.Is(err, pricing.ErrTierTableEmpty), errors.Is(err, pricing.ErrTableMalformed):
		return &common.AppError{
			Code: "CONFIGURATION_ERROR", Message: err.Error(),
			HTTPStatus: http.StatusUnprocessableEntity, Err: err,
		}
	default:
		return err
	}
}

func computeResult(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case "PRICING_DATA_GAP":
			return "gap"
		case "INVALID_INPUT":
			return "invalid"
		case "BELOW_MINIMUM":
			return "below_minimum"
		}
	}
	return "error"
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func lineNotFound(lineNumber int) error {
	return &common.AppError{
		Code: "NOT_FOUND", Message: fmt.Sprintf("line %d not found", lineNumber),
		HTTPStatus: http.StatusNotFound,
	}
}
