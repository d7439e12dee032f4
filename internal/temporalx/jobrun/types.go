package jobrun

import "time"

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"

	// ActivityTimeout bounds a single pass of a job handler.
	ActivityTimeout = 3 * time.Hour
	pollInterval    = 2 * time.Second
	maxTicks        = 500
)

type TickResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}
