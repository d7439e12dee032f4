package aggregates

import (
	"context"
	"strings"
	"time"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

// Writer runs aggregate writes in a transaction and maps their errors.
type Writer struct {
	Runner TxRunner
	Hooks  Hooks
}

func NewWriter(runner TxRunner, hooks Hooks) *Writer {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &Writer{Runner: runner, Hooks: hooks}
}

// Execute runs fn in one transaction. The returned error always carries an
// aggregate code.
func (w *Writer) Execute(ctx context.Context, op string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.write"
	}
	if w == nil || w.Runner == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "aggregate writer has no transaction runner", nil)
	}
	hooks := w.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}

	mapped := MapError(op, w.Runner.InTx(ctx, fn))

	status := "success"
	if mapped != nil {
		status = string(domainagg.CodeOf(mapped))
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeRetryable) {
			hooks.IncRetry(op)
		}
	}
	hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}
