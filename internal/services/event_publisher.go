package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainevents "github.com/yungbote/storybook-backend/internal/domain/events"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// DomainEventPublisher records events in the outbox. Pass the transaction
// that changes the aggregate so the event commits (or not) with it.
type DomainEventPublisher interface {
	Publish(dbc dbctx.Context, event types.Event) error
	PublishMany(dbc dbctx.Context, events []types.Event) error
}

type outboxPublisher struct {
	log  *logger.Logger
	repo repos.DomainEventRepo
	now  func() time.Time
}

func NewDomainEventPublisher(baseLog *logger.Logger, repo repos.DomainEventRepo) DomainEventPublisher {
	return &outboxPublisher{
		log:  baseLog.With("service", "DomainEventPublisher"),
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (p *outboxPublisher) Publish(dbc dbctx.Context, event types.Event) error {
	return p.PublishMany(dbc, []types.Event{event})
}

func (p *outboxPublisher) PublishMany(dbc dbctx.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := p.now()
	rows := make([]*types.DomainEvent, 0, len(events))
	for _, e := range events {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("domain event name required")
		}
		row, err := domainevents.NewDomainEvent(e, now)
		if err != nil {
			return fmt.Errorf("encode domain event %s: %w", e.Name, err)
		}
		rows = append(rows, row)
	}
	if err := p.repo.Create(dbc, rows); err != nil {
		return fmt.Errorf("store domain events: %w", err)
	}
	for _, row := range rows {
		p.log.Debug("domain event recorded", "event", row.EventName, "aggregate_id", row.AggregateID)
	}
	return nil
}
