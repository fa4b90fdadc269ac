package infrastructure

import (
	"raffler/domain/events"
)

// NoopEventPublisher drops every event.
// Used by admin commands that must not fan out to NATS.
type NoopEventPublisher struct{}

// NewNoopEventPublisher creates a new no-op event publisher
func NewNoopEventPublisher() *NoopEventPublisher {
	return &NoopEventPublisher{}
}

// Publish does nothing with the event
func (n *NoopEventPublisher) Publish(event events.Event) error {
	return nil
}
