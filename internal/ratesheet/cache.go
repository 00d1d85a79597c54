package ratesheet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores parsed sheets in Redis as JSON. Each style carries a
// generation counter bumped on invalidation; a fetch that started before
// the bump cannot overwrite fresher data.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func sheetKey(styleNumber string) string { return "ratesheet:sheet:" + styleNumber }
func genKey(styleNumber string) string   { return "ratesheet:gen:" + styleNumber }

// Get loads a cached sheet. It reports whether the key existed.
func (c *Cache) Get(ctx context.Context, styleNumber string) (*Sheet, bool, error) {
	if c == nil || c.client == nil || styleNumber == "" {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, sheetKey(styleNumber)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	var sheet Sheet
	if err := json.Unmarshal(data, &sheet); err != nil {
		return nil, false, err
	}
	return &sheet, true, nil
}

// Generation returns the current generation counter for a style.
func (c *Cache) Generation(ctx context.Context, styleNumber string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, genKey(styleNumber)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Set stores a sheet only if the generation counter still matches the one
// observed before the origin fetch began. A stale writer loses silently.
func (c *Cache) Set(ctx context.Context, sheet *Sheet, observedGen int64) error {
	if c == nil || c.client == nil || sheet == nil || sheet.StyleNumber == "" {
		return nil
	}
	current, err := c.Generation(ctx, sheet.StyleNumber)
	if err != nil {
		return err
	}
	if current != observedGen {
		return nil
	}
	data, err := json.Marshal(sheet)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sheetKey(sheet.StyleNumber), data, c.ttl).Err()
}

// Invalidate drops the cached sheet and bumps the generation counter so
// in-flight origin fetches cannot resurrect the old data.
func (c *Cache) Invalidate(ctx context.Context, styleNumber string) error {
	if c == nil || c.client == nil || styleNumber == "" {
		return nil
	}
	if err := c.client.Incr(ctx, genKey(styleNumber)).Err(); err != nil {
		return err
	}
	return c.client.Del(ctx, sheetKey(styleNumber)).Err()
}
