package obs

import "context"

type routePatternKey struct{}

// WithRoutePattern records the matched chi pattern so downstream
// middlewares label metrics with "/api/v1/quotes/{quoteID}" instead
// of unbounded raw paths.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the stored pattern or "".
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routePatternKey{}).(string)
	return pattern
}
