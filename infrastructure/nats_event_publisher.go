package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"raffler/domain/events"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventEnvelope wraps every event published to NATS
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SourceService string          `json:"source_service"`
	Payload       json.RawMessage `json:"payload"`
}

// messageBus is the part of NATSClient the publisher needs
type messageBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSEventPublisher publishes domain events to NATS
type NATSEventPublisher struct {
	bus           messageBus
	subjectMapper *EventSubjectMapper
	source        string
	timeout       time.Duration
}

// NewNATSEventPublisher creates a new NATS event publisher
func NewNATSEventPublisher(bus messageBus, subjectMapper *EventSubjectMapper, source string) *NATSEventPublisher {
	return &NATSEventPublisher{
		bus:           bus,
		subjectMapper: subjectMapper,
		source:        source,
		timeout:       5 * time.Second,
	}
}

// Publish wraps the event in an envelope and publishes it on its subject
func (p *NATSEventPublisher) Publish(event events.Event) error {
	subject := p.subjectMapper.MapEventToSubject(event)

	envelope, err := NewEventEnvelope(event, p.source)
	if err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.bus.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Successfully published event to NATS")

	return nil
}

// EnsureRaffleEventStream creates the stream covering all raffle subjects
func (p *NATSEventPublisher) EnsureRaffleEventStream(client *NATSClient) error {
	return client.EnsureStream(RaffleEventStream, p.subjectMapper.GetAllSubjects())
}

// NewEventEnvelope wraps an event with a fresh id and timestamp
func NewEventEnvelope(event events.Event, source string) (*EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     time.Now().UTC(),
		SourceService: source,
		Payload:       payload,
	}, nil
}
