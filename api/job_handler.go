package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/coord"
	"github.com/xraph/coord/engine"
	"github.com/xraph/coord/id"
	"github.com/xraph/coord/job"
	"github.com/xraph/coord/task"
)

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	JobID  string            `json:"job_id"`
	Config map[string]string `json:"config"`
	Tasks  []TaskRequest     `json:"tasks" binding:"required,min=1,dive"`
	// Open leaves the job unsealed so more tasks can be added later.
	Open bool `json:"open"`
}

// TaskRequest describes one task of a submitted job.
type TaskRequest struct {
	ID       string            `json:"id"`
	Data     string            `json:"data"`
	Plugin   string            `json:"plugin" binding:"required"`
	Timeout  string            `json:"timeout"`
	Queue    string            `json:"queue"`
	Metadata map[string]string `json:"metadata"`
}

// SubmitJobResponse is returned by POST /v1/jobs.
type SubmitJobResponse struct {
	JobID   string   `json:"job_id"`
	TaskIDs []string `json:"task_ids"`
	Sealed  bool     `json:"sealed"`
}

// JobResponse is returned by GET /v1/jobs/:id.
type JobResponse struct {
	*job.Job
	Tasks []*task.Task `json:"tasks"`
}

func (a *API) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := make([][]engine.TaskOption, len(req.Tasks))
	seen := make(map[string]int, len(req.Tasks))
	for i, t := range req.Tasks {
		if t.ID != "" {
			if j, dup := seen[t.ID]; dup {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("task %d: id %q repeats task %d", i, t.ID, j)})
				return
			}
			seen[t.ID] = i
		}
		o := []engine.TaskOption{engine.WithPlugin(t.Plugin)}
		if t.Timeout != "" {
			d, err := time.ParseDuration(t.Timeout)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("task %d: invalid timeout %q", i, t.Timeout)})
				return
			}
			o = append(o, engine.WithTaskTimeout(d))
		}
		if t.Queue != "" {
			o = append(o, engine.WithTaskQueue(t.Queue))
		}
		if len(t.Metadata) > 0 {
			o = append(o, engine.WithTaskMetadata(t.Metadata))
		}
		opts[i] = o
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = id.NewJobID()
	}

	ctx := c.Request.Context()
	if err := a.eng.SubmitJob(ctx, jobID, req.Config); err != nil {
		a.writeError(c, err)
		return
	}

	resp := SubmitJobResponse{JobID: jobID, TaskIDs: make([]string, 0, len(req.Tasks))}
	for i, t := range req.Tasks {
		taskID := t.ID
		if taskID == "" {
			next, err := a.eng.NextTaskID(ctx, jobID)
			if err != nil {
				a.abandonJob(ctx, jobID)
				a.writeError(c, err)
				return
			}
			taskID = next
		}
		if err := a.eng.AddTask(ctx, jobID, taskID, t.Data, opts[i]...); err != nil {
			a.abandonJob(ctx, jobID)
			a.writeError(c, fmt.Errorf("task %d: %w", i, err))
			return
		}
		resp.TaskIDs = append(resp.TaskIDs, taskID)
	}

	if !req.Open {
		if err := a.eng.SealJob(ctx, jobID); err != nil {
			a.abandonJob(ctx, jobID)
			a.writeError(c, err)
			return
		}
		resp.Sealed = true
	}

	c.JSON(http.StatusCreated, resp)
}

// abandonJob removes a job whose submission failed part way, so no
// unsealed job or orphaned queued task outlives the error response.
func (a *API) abandonJob(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.eng.CancelJob(ctx, jobID); err != nil && !errors.Is(err, coord.ErrInvalidState) {
		a.logger.Warn("failed to cancel abandoned job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	if err := a.eng.CleanupJob(ctx, jobID); err != nil {
		a.logger.Warn("failed to clean up abandoned job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (a *API) getJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	j, err := a.eng.JobStatus(ctx, jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	tasks, err := a.eng.JobTasks(ctx, jobID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobResponse{Job: j, Tasks: tasks})
}

func (a *API) cancelJob(c *gin.Context) {
	if err := a.eng.CancelJob(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) cleanupJob(c *gin.Context) {
	if err := a.eng.CleanupJob(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) getTask(c *gin.Context) {
	t, err := a.eng.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// writeError maps coord sentinel errors to HTTP statuses.
func (a *API) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coord.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coord.ErrAlreadyExists), errors.Is(err, coord.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, coord.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, coord.ErrConnection), errors.Is(err, coord.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
