package events

// Topic constants for domain events emitted by the platform.
const (
	TopicQuoteCreated     = "quote.created"
	TopicQuoteUpdated     = "quote.updated"
	TopicQuoteFinalized   = "quote.finalized"
	TopicQuoteExpired     = "quote.expired"
	TopicRatesheetRefresh = "ratesheet.refreshed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicQuoteCreated,
		TopicQuoteUpdated,
		TopicQuoteFinalized,
		TopicQuoteExpired,
		TopicRatesheetRefresh,
	}
}
