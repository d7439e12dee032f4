package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	"github.com/yungbote/storybook-backend/internal/platform/ctxutil"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// JobRunWorkflow is the Temporal workflow name registered by temporalx/jobrun.
// Kept as a literal to avoid an import cycle.
const JobRunWorkflow = "job_run"

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetByIDForOwner(dbc dbctx.Context, ownerID uuid.UUID, jobID uuid.UUID) (*types.JobRun, error)
}

// WorkflowStarter is the slice of the Temporal client the job service needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier

	temporal          WorkflowStarter
	temporalTaskQueue string
}

// NewJobService wires the job_run store to Temporal. A nil starter leaves
// queued rows for the in-process worker to claim.
func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	notify JobNotifier,
	starter WorkflowStarter,
	taskQueue string,
) JobService {
	return &jobService{
		db:                db,
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		notify:            notify,
		temporal:          starter,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_id")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	now := time.Now().UTC()
	job := &types.JobRun{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		JobType:    jobType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     domainjobs.StatusQueued,
		Stage:      "queued",
		Progress:   0,
		Attempts:   0,
		Message:    "Queued",
		Payload:    datatypes.JSON(b),
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbctx.Context{Ctx: dbc.Ctx, Tx: dbc.Tx}, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify.JobCreated(ownerID, job)

	// Inside a real transaction the caller dispatches after commit; starting
	// the workflow now could run it against rows that never commit.
	// gorm.DB pointers are cloned freely, so pointer comparison is not a
	// reliable transaction check.
	if isDBTransaction(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; awaiting dispatch after commit", "job_id", job.ID, "job_type", job.JobType)
		return job, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, job.ID); err != nil {
		return job, err
	}
	return job, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

// Dispatch starts the job's workflow. Starting twice is harmless: the
// workflow id is the job id. A failed start marks the job failed.
func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	if s.temporal == nil {
		s.log.Debug("Temporal not configured; job left queued for local worker", "job_id", jobID)
		return nil
	}
	ctx := dbc.Context()

	err := s.startTemporalJobWorkflow(ctx, jobID, enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE)
	if err == nil {
		return nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return nil
	}

	now := time.Now().UTC()
	if uerr := s.repo.UpdateFields(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{
		"status":        domainjobs.StatusFailed,
		"stage":         "dispatch",
		"message":       "",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}); uerr != nil {
		s.log.Warn("failed to mark undispatched job failed", "job_id", jobID, "error", uerr)
	}
	if j, rerr := s.repo.GetByID(dbctx.Context{Ctx: ctx}, jobID); rerr == nil && j != nil {
		s.notify.JobFailed(j.OwnerID, j, "dispatch", err.Error())
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) GetByIDForOwner(dbc dbctx.Context, ownerID uuid.UUID, jobID uuid.UUID) (*types.JobRun, error) {
	if ownerID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeUnauthorized, "job.get", "not authenticated", nil)
	}
	if jobID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, "job.get", "missing job id", nil)
	}
	job, err := s.repo.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.OwnerID != ownerID {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "job.get", "job not found", nil)
	}
	return job, nil
}

func (s *jobService) startTemporalJobWorkflow(ctx context.Context, jobID uuid.UUID, reusePolicy enums.WorkflowIdReusePolicy) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "storybook"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: reusePolicy,
		// Retries are a new job run (and a new id), never a replay.
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, JobRunWorkflow)
	return err
}
