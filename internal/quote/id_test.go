package quote_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/quote"
)

func TestNextIssuesSequentialIDs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gen := &quote.IDGenerator{
		R:   client,
		Now: func() time.Time { return time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC) },
	}
	ctx := context.Background()

	first, err := gen.Next(ctx, "EMB")
	require.NoError(t, err)
	require.Equal(t, "EMB0829-1", first)

	second, err := gen.Next(ctx, "EMB")
	require.NoError(t, err)
	require.Equal(t, "EMB0829-2", second)

	// A different prefix runs its own daily sequence.
	capID, err := gen.Next(ctx, "CAP")
	require.NoError(t, err)
	require.Equal(t, "CAP0829-1", capID)

	require.True(t, mr.TTL("quote:seq:EMB0829") > 0)
}

func TestNextDegradedWithoutRedis(t *testing.T) {
	gen := &quote.IDGenerator{
		Now: func() time.Time { return time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC) },
	}
	id, err := gen.Next(context.Background(), "sp")
	require.NoError(t, err)
	require.Regexp(t, `^SP0829-\d+$`, id)
}

func TestPrefixFor(t *testing.T) {
	cases := map[string]string{
		"embroidery":     "EMB",
		"cap-embroidery": "CAP",
		"Screenprint":    "SP",
		"dtg":            "DTG",
		"dtf":            "DTF",
		"laser":          "QT",
		"":               "QT",
	}
	for in, want := range cases {
		require.Equal(t, want, quote.PrefixFor(in), in)
	}
}
