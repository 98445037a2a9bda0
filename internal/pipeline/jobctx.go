package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/malascope/malascope-backend/internal/repos"
	"github.com/malascope/malascope-backend/internal/types"
)

// JobContext is the execution handle for one claimed analysis job. It
// is the only sanctioned way for a handler to report progress or
// terminate the run; handlers never write the job row directly.
type JobContext struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.AnalysisJob
	repo repos.AnalysisJobRepo
}

func NewJobContext(ctx context.Context, db *gorm.DB, job *types.AnalysisJob, repo repos.AnalysisJobRepo) *JobContext {
	return &JobContext{Ctx: ctx, DB: db, Job: job, repo: repo}
}

// Stage records a non-terminal progress marker and refreshes the
// heartbeat.
func (c *JobContext) Stage(stage string) {
	now := time.Now()
	_ = c.repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]any{
		"stage":        stage,
		"heartbeat_at": now,
	})
	c.Job.Stage = stage
	c.Job.HeartbeatAt = &now
}

// Fail terminates the run as failed, recording the stage it died in.
func (c *JobContext) Fail(stage string, err error) {
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = c.repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]any{
		"status":        types.JobStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	})
	c.Job.Status = types.JobStatusFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
}

// Complete terminates the run as completed and stores the result
// payload.
func (c *JobContext) Complete(finalStage string, result any) {
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	_ = c.repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]any{
		"status":       types.JobStatusCompleted,
		"stage":        finalStage,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
	})
	c.Job.Status = types.JobStatusCompleted
	c.Job.Stage = finalStage
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
}

// PayloadUUID reads a payload field as a UUID.
func (c *JobContext) PayloadUUID(key string) (uuid.UUID, bool) {
	if len(c.Job.Payload) == 0 {
		return uuid.Nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		return uuid.Nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
