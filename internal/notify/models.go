package notify

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint is a registered webhook receiver, e.g. the order-management
// system that ingests finalized quotes.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeliveryStatus is the lifecycle state of one webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDLQ        DeliveryStatus = "dlq"
)

// Delivery is one scheduled webhook attempt chain for (endpoint, event).
type Delivery struct {
	ID             uuid.UUID      `json:"id"`
	EndpointID     uuid.UUID      `json:"endpointId"`
	EventID        int64          `json:"eventId"`
	Attempt        int            `json:"attempt"`
	MaxAttempt     int            `json:"maxAttempt"`
	Status         DeliveryStatus `json:"status"`
	LastError      string         `json:"lastError,omitempty"`
	ResponseStatus int            `json:"responseStatus,omitempty"`
	ResponseBody   string         `json:"responseBody,omitempty"`
	NextAttemptAt  time.Time      `json:"nextAttemptAt"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DeliveryFilter narrows admin delivery listings.
type DeliveryFilter struct {
	EndpointID uuid.UUID
	EventID    int64
	Status     string
	Limit      int
	Offset     int
}
