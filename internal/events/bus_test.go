package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-quoting/internal/events"
)

type stubStore struct {
	lastTopic     string
	lastAggregate string
	lastPayload   []byte
	nextID        int64
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	s.lastTopic = topic
	s.lastAggregate = aggregateID
	s.lastPayload = payload
	s.nextID++
	return events.DomainEvent{
		ID:          s.nextID,
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}, nil
}

type captureScheduler struct {
	events []events.DomainEvent
}

func (c *captureScheduler) Schedule(_ context.Context, event events.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event events.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     store,
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notifier},
	}

	payload := map[string]any{"quoteId": "RICH0829-1"}
	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicQuoteCreated, "RICH0829-1", payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicQuoteCreated, store.lastTopic)
	require.Equal(t, "RICH0829-1", store.lastAggregate)
	require.JSONEq(t, `{"quoteId":"RICH0829-1"}`, string(store.lastPayload))
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "RICH0829-1", decoded["quoteId"])
}

func TestEmitRequiresAggregate(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), events.TopicQuoteCreated, "  ", nil)
	require.Error(t, err)
}

func TestEmitEmptyPayloadBecomesObject(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store}
	_, err := bus.Emit(context.Background(), events.TopicQuoteExpired, "Q1", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(store.lastPayload))
}
