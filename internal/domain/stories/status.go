package stories

import (
	"fmt"
	"strings"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
)

// GenerationStatus is the lifecycle state of a story generation request.
//
//	pending -> processing -> completed
//	   |           |
//	   +-> failed <+
//	failed -> pending (explicit retry only)
type GenerationStatus string

const (
	StatusPending    GenerationStatus = "pending"
	StatusProcessing GenerationStatus = "processing"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// ActiveStatuses are the states that count against the one-in-flight-per-owner rule.
var ActiveStatuses = []GenerationStatus{StatusPending, StatusProcessing}

var transitions = map[GenerationStatus]map[GenerationStatus]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusFailed: {
		StatusPending: {},
	},
	StatusCompleted: {},
}

func ParseGenerationStatus(raw string) (GenerationStatus, error) {
	s := GenerationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown generation status %q", raw)
	}
	return s, nil
}

func (s GenerationStatus) String() string { return string(s) }

func (s GenerationStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s GenerationStatus) IsPending() bool    { return s == StatusPending }
func (s GenerationStatus) IsProcessing() bool { return s == StatusProcessing }
func (s GenerationStatus) IsCompleted() bool  { return s == StatusCompleted }
func (s GenerationStatus) IsFailed() bool     { return s == StatusFailed }

// IsActive reports whether a generation is still in flight.
func (s GenerationStatus) IsActive() bool { return s == StatusPending || s == StatusProcessing }

// IsTerminal reports whether the pipeline has nothing left to do.
func (s GenerationStatus) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// ValidateTransition returns an invalid_state error for edges outside the table.
func (s GenerationStatus) ValidateTransition(next GenerationStatus) error {
	if s.CanTransitionTo(next) {
		return nil
	}
	return domainagg.NewError(
		domainagg.CodeInvalidState,
		"story.transition",
		fmt.Sprintf("cannot transition generation status from %q to %q", s, next),
		nil,
	)
}
