package infrastructure

import (
	"fmt"

	"raffler/domain/events"
)

// EventSubjectMapper maps domain events to NATS subjects and back
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	switch event.Type() {
	case events.EventTypeRaffleEnter:
		return "raffle.entered"
	case events.EventTypeRequestedRaffleWinner:
		return "raffle.winner_requested"
	case events.EventTypeWinnerPicked:
		return "raffle.winner_picked"
	default:
		return fmt.Sprintf("unknown.%s", event.Type())
	}
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	switch subject {
	case "raffle.entered":
		return events.EventTypeRaffleEnter
	case "raffle.winner_requested":
		return events.EventTypeRequestedRaffleWinner
	case "raffle.winner_picked":
		return events.EventTypeWinnerPicked
	default:
		return events.EventType(subject)
	}
}

// GetAllSubjects returns all subjects this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		"raffle.entered",
		"raffle.winner_requested",
		"raffle.winner_picked",
	}
}
