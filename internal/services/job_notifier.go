package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/realtime"
)

type JobNotifier interface {
	JobCreated(ownerID uuid.UUID, job *types.JobRun)
	JobProgress(ownerID uuid.UUID, job *types.JobRun, stage string, progress int, message string)
	JobFailed(ownerID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(ownerID uuid.UUID, job *types.JobRun)
}

type jobNotifier struct {
	emit RealtimeEmitter
}

func NewJobNotifier(emit RealtimeEmitter) JobNotifier {
	return &jobNotifier{emit: emit}
}

func (n *jobNotifier) send(ownerID uuid.UUID, event realtime.Event, data map[string]any) {
	if n == nil || n.emit == nil || ownerID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: ownerID.String(),
		Event:   event,
		Data:    data,
	})
}

func (n *jobNotifier) JobCreated(ownerID uuid.UUID, job *types.JobRun) {
	n.send(ownerID, realtime.EventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(ownerID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.send(ownerID, realtime.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
		"job":      job,
	})
}

func (n *jobNotifier) JobFailed(ownerID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.send(ownerID, realtime.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
		"job":      job,
	})
}

func (n *jobNotifier) JobDone(ownerID uuid.UUID, job *types.JobRun) {
	n.send(ownerID, realtime.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}
