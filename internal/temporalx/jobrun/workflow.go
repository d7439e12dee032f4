package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
)

// Workflow drives one job_run row, identified by the workflow id, to a
// terminal status. The activity is not retried by Temporal: a failed
// generation is retried by the owner under a new job run.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	for tick := 1; ; tick++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}
		switch out.Status {
		case domainjobs.StatusSucceeded, domainjobs.StatusCanceled:
			return nil
		case domainjobs.StatusFailed:
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("job failed (stage=%s)", out.Stage), "JobFailed", nil)
		}
		// Still running elsewhere (a stale local claim); poll until it settles.
		if tick >= maxTicks {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}
