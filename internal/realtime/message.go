package realtime

type Event string

const (
	EventJobCreated  Event = "JobCreated"
	EventJobProgress Event = "JobProgress"
	EventJobFailed   Event = "JobFailed"
	EventJobDone     Event = "JobDone"

	// EventDomain carries an outbox row relayed from domain_event.
	EventDomain Event = "DomainEvent"
)

// Message is the unit fanned out to connected clients. Channel is the owner id.
type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}
