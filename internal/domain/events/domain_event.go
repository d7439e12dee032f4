package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is what a use case hands to the publisher.
type Event struct {
	Name          string
	AggregateType string
	AggregateID   uuid.UUID
	OwnerID       uuid.UUID
	Payload       map[string]any
	OccurredAt    time.Time
}

// DomainEvent is the outbox row. Rows are written in the same transaction as
// the aggregate change and relayed to the bus afterwards.
type DomainEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventName     string         `gorm:"column:event_name;not null;index" json:"event_name"`
	AggregateType string         `gorm:"column:aggregate_type;not null;index:idx_domain_event_aggregate,priority:1" json:"aggregate_type"`
	AggregateID   uuid.UUID      `gorm:"type:uuid;column:aggregate_id;not null;index:idx_domain_event_aggregate,priority:2" json:"aggregate_id"`
	OwnerID       *uuid.UUID     `gorm:"type:uuid;column:owner_id;index" json:"owner_id,omitempty"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	OccurredAt    time.Time      `gorm:"column:occurred_at;not null" json:"occurred_at"`
	PublishedAt   *time.Time     `gorm:"column:published_at;index" json:"published_at,omitempty"`
	Attempts      int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError     string         `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;index" json:"created_at"`
}

func (DomainEvent) TableName() string { return "domain_event" }

// NewDomainEvent converts an Event into an unpublished outbox row.
func NewDomainEvent(e Event, now time.Time) (*DomainEvent, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	row := &DomainEvent{
		ID:            uuid.New(),
		EventName:     e.Name,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       datatypes.JSON(raw),
		OccurredAt:    occurred,
		CreatedAt:     now,
	}
	if e.OwnerID != uuid.Nil {
		owner := e.OwnerID
		row.OwnerID = &owner
	}
	return row, nil
}
