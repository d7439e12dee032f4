package aggregates

import (
	"strings"
	"time"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// Hooks captures aggregate write outcomes.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}

type logHooks struct {
	log *logger.Logger
}

// NewLogHooks reports slow or failed aggregate writes through the logger.
func NewLogHooks(log *logger.Logger) Hooks {
	if log == nil {
		return noopHooks{}
	}
	return &logHooks{log: log.With("component", "AggregateHooks")}
}

func (h *logHooks) ObserveOperation(name, status string, dur time.Duration) {
	name = strings.TrimSpace(name)
	if status != "success" {
		h.log.Warn("aggregate write failed", "op", name, "status", status, "duration_ms", dur.Milliseconds())
		return
	}
	if dur > time.Second {
		h.log.Warn("slow aggregate write", "op", name, "duration_ms", dur.Milliseconds())
	}
}

func (h *logHooks) IncConflict(name string) {
	h.log.Info("aggregate write conflict", "op", strings.TrimSpace(name))
}

func (h *logHooks) IncRetry(name string) {
	h.log.Info("aggregate write retryable", "op", strings.TrimSpace(name))
}
