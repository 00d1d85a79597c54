package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/events"
	"github.com/noah-isme/backend-quoting/internal/export"
	"github.com/noah-isme/backend-quoting/internal/pricing"
)

// EmailNotifier sends transactional emails for selected topics.
type EmailNotifier struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
}

// Notify implements the events.Notifier interface.
func (n EmailNotifier) Notify(_ context.Context, event events.DomainEvent) error {
	if !n.Enabled || n.Mail == nil {
		return nil
	}
	if n.TopicToggles != nil {
		if enabled, ok := n.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	payload := map[string]any{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("email notify: decode payload: %w", err)
		}
	}
	to := extractRecipient(payload)
	if to == "" {
		return nil
	}
	subject := subjectFor(event.Topic, event.AggregateID)
	body := bodyFor(event.Topic, event.AggregateID, payload, event.OccurredAt)
	return n.Mail.Send(to, subject, body)
}

func extractRecipient(payload map[string]any) string {
	keys := []string{"customerEmail", "email", "recipient"}
	for _, key := range keys {
		if val, ok := payload[key]; ok {
			if s, ok := val.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func subjectFor(topic, quoteID string) string {
	switch topic {
	case events.TopicQuoteCreated:
		return fmt.Sprintf("Your quote %s", quoteID)
	case events.TopicQuoteFinalized:
		return fmt.Sprintf("Quote %s confirmed", quoteID)
	case events.TopicQuoteExpired:
		return fmt.Sprintf("Quote %s has expired", quoteID)
	default:
		return fmt.Sprintf("Update on quote %s", quoteID)
	}
}

func bodyFor(topic, quoteID string, payload map[string]any, occurred time.Time) string {
	var sb strings.Builder
	switch topic {
	case events.TopicQuoteCreated:
		fmt.Fprintf(&sb, "Thanks for building a quote with us. Your quote number is %s.", quoteID)
	case events.TopicQuoteFinalized:
		fmt.Fprintf(&sb, "Quote %s is confirmed and has been sent to production planning.", quoteID)
	case events.TopicQuoteExpired:
		fmt.Fprintf(&sb, "Quote %s expired on %s. Prices may have changed; please request a new quote.",
			quoteID, occurred.Format("January 2, 2006"))
	default:
		fmt.Fprintf(&sb, "Quote %s was updated on %s.", quoteID, occurred.Format(time.RFC1123))
	}
	if total, ok := payload["totalAmount"].(float64); ok && total > 0 {
		fmt.Fprintf(&sb, "\nTotal: %s", export.FormatMoney(pricing.Money(total)))
	}
	if qty, ok := payload["totalQuantity"].(float64); ok && qty > 0 {
		fmt.Fprintf(&sb, "\nPieces: %d", int(qty))
	}
	return sb.String()
}
