package quote

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IDGenerator issues human-readable quote identifiers of the form
// PREFIX + MMDD + "-" + daily sequence, e.g. "EMB0829-3". The sequence
// lives in Redis so concurrent API instances never collide.
type IDGenerator struct {
	R   *redis.Client
	Now func() time.Time
}

func (g *IDGenerator) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Next returns the next quote ID for the given prefix.
func (g *IDGenerator) Next(ctx context.Context, prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "QT"
	}
	now := g.now()
	dateKey := now.Format("0102")
	if g == nil || g.R == nil {
		// Degraded mode: unique but not sequential.
		return fmt.Sprintf("%s%s-%d", prefix, dateKey, now.UnixNano()%100000), nil
	}
	key := fmt.Sprintf("quote:seq:%s%s", prefix, dateKey)
	seq, err := g.R.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("quote: next id: %w", err)
	}
	if seq == 1 {
		// Sequence keys only matter for one day; keep a margin for
		// quotes created near midnight.
		_ = g.R.Expire(ctx, key, 48*time.Hour).Err()
	}
	return fmt.Sprintf("%s%s-%d", prefix, dateKey, seq), nil
}

// PrefixFor maps an embellishment type onto its quote ID prefix.
func PrefixFor(embellishmentType string) string {
	switch strings.ToLower(strings.TrimSpace(embellishmentType)) {
	case "embroidery":
		return "EMB"
	case "cap-embroidery", "cap_embroidery":
		return "CAP"
	case "screenprint", "screen-print", "screen_print":
		return "SP"
	case "dtg":
		return "DTG"
	case "dtf":
		return "DTF"
	default:
		return "QT"
	}
}
