package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
	"github.com/yungbote/storybook-backend/internal/realtime/bus"
)

const defaultRelayBatch = 100

// OutboxRelay forwards unpublished domain_event rows to the realtime bus.
// Delivery is at-least-once: a crash between publish and mark re-sends.
type OutboxRelay struct {
	log   *logger.Logger
	repo  repos.DomainEventRepo
	bus   bus.Bus
	batch int
}

func NewOutboxRelay(baseLog *logger.Logger, repo repos.DomainEventRepo, b bus.Bus, batch int) *OutboxRelay {
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	return &OutboxRelay{
		log:   baseLog.With("service", "OutboxRelay"),
		repo:  repo,
		bus:   b,
		batch: batch,
	}
}

// RelayOnce publishes one batch and returns how many rows were marked published.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rows, err := r.repo.ListUnpublished(dbc, r.batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]uuid.UUID, 0, len(rows))
	failed := 0
	for _, row := range rows {
		if row.OwnerID == nil || *row.OwnerID == uuid.Nil || r.bus == nil {
			published = append(published, row.ID)
			continue
		}
		var payload map[string]any
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &payload); err != nil {
				r.log.Warn("undecodable outbox payload; skipping", "event_id", row.ID, "error", err)
				published = append(published, row.ID)
				continue
			}
		}
		msg := realtime.Message{
			Channel: row.OwnerID.String(),
			Event:   realtime.EventDomain,
			Data: map[string]any{
				"id":             row.ID.String(),
				"name":           row.EventName,
				"aggregate_type": row.AggregateType,
				"aggregate_id":   row.AggregateID.String(),
				"payload":        payload,
				"occurred_at":    row.OccurredAt,
			},
		}
		if err := r.bus.Publish(ctx, msg); err != nil {
			r.log.Warn("outbox publish failed", "event_id", row.ID, "event", row.EventName, "error", err)
			if merr := r.repo.MarkAttemptFailed(dbc, row.ID, err.Error()); merr != nil {
				r.log.Warn("outbox attempt bookkeeping failed", "event_id", row.ID, "error", merr)
			}
			failed++
			continue
		}
		published = append(published, row.ID)
	}

	if err := r.repo.MarkPublished(dbc, published, time.Now().UTC()); err != nil {
		return 0, err
	}
	observability.Current().ObserveOutbox(len(published), failed)
	return len(published), nil
}

// Run relays until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("outbox relay pass failed", "error", err)
				}
				continue
			}
			if n > 0 {
				r.log.Debug("outbox relayed", "count", n)
			}
		}
	}
}
