package ratesheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quoting/internal/obs"
	"github.com/noah-isme/backend-quoting/internal/resilience"
)

// ErrStyleNotFound is returned when the vendor API has no sheet for the
// requested style number.
var ErrStyleNotFound = errors.New("ratesheet: style not found")

// ErrOriginUnavailable is returned when the vendor API cannot be reached
// and no cached sheet exists.
var ErrOriginUnavailable = errors.New("ratesheet: pricing origin unavailable")

// Service loads vendor price sheets with a Redis cache in front of the
// origin API. Origin calls go through the retrying, circuit-broken client.
type Service struct {
	Client  resilience.HTTPClient
	Cache   *Cache
	BaseURL string
	APIKey  string
	Logger  zerolog.Logger
}

// Get returns the parsed sheet for a style, serving from cache when
// possible. A cache miss triggers an origin fetch; the result is cached
// under the generation observed before the fetch started.
func (s *Service) Get(ctx context.Context, styleNumber string) (*Sheet, error) {
	styleNumber = strings.TrimSpace(styleNumber)
	if styleNumber == "" {
		return nil, fmt.Errorf("ratesheet: style number is required")
	}

	if sheet, ok, err := s.Cache.Get(ctx, styleNumber); err == nil && ok {
		observeFetch("cache", "hit")
		return sheet, nil
	} else if err != nil {
		s.Logger.Warn().Err(err).Str("style", styleNumber).Msg("ratesheet_cache_read_failed")
	}

	gen, err := s.Cache.Generation(ctx, styleNumber)
	if err != nil {
		gen = -1
	}

	sheet, err := s.fetchOrigin(ctx, styleNumber)
	if err != nil {
		observeFetch("origin", "error")
		return nil, err
	}
	observeFetch("origin", "ok")

	if gen >= 0 {
		if err := s.Cache.Set(ctx, sheet, gen); err != nil {
			s.Logger.Warn().Err(err).Str("style", styleNumber).Msg("ratesheet_cache_write_failed")
		}
	}
	return sheet, nil
}

// Refresh drops the cached sheet and fetches a fresh copy from the origin.
func (s *Service) Refresh(ctx context.Context, styleNumber string) (*Sheet, error) {
	styleNumber = strings.TrimSpace(styleNumber)
	if styleNumber == "" {
		return nil, fmt.Errorf("ratesheet: style number is required")
	}
	if err := s.Cache.Invalidate(ctx, styleNumber); err != nil {
		s.Logger.Warn().Err(err).Str("style", styleNumber).Msg("ratesheet_cache_invalidate_failed")
	}
	return s.Get(ctx, styleNumber)
}

func (s *Service) fetchOrigin(ctx context.Context, styleNumber string) (*Sheet, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		return nil, ErrOriginUnavailable
	}
	endpoint := fmt.Sprintf("%s/api/pricing-bundle?styleNumber=%s", base, url.QueryEscape(styleNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.Client.Do(ctx, req)
	if err != nil {
		s.Logger.Error().Err(err).Str("style", styleNumber).Msg("ratesheet_origin_fetch_failed")
		return nil, fmt.Errorf("%w: %v", ErrOriginUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrStyleNotFound, styleNumber)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: origin returned %s", ErrOriginUnavailable, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOriginUnavailable, err)
	}
	sheet, err := ParseSheet(body)
	if err != nil {
		return nil, err
	}
	if sheet.StyleNumber == "" {
		sheet.StyleNumber = styleNumber
	}
	return sheet, nil
}

func observeFetch(source, result string) {
	if obs.RatesheetFetchTotal != nil {
		obs.RatesheetFetchTotal.WithLabelValues(source, result).Inc()
	}
}
