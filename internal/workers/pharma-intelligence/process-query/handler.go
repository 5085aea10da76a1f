// Package processquery runs pharma business questions as a Zeebe service task.
package processquery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	commonerrors "pharma-orchestrator/internal/common/errors"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/common/validation"
	"pharma-orchestrator/internal/jobs"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/orchestrator"
)

const TaskType = "process-pharma-query"

const statusDone = "done"

type JobRunner interface {
	Run(ctx context.Context, id string, req orchestrator.Request) (*jobs.Job, error)
}

type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

type Handler struct {
	config       *Config
	jobs         JobRunner
	queries      QueryProcessor
	schema       *validation.Schema
	errorHandler *commonerrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, jobRunner JobRunner, queries QueryProcessor, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		jobs:         jobRunner,
		queries:      queries,
		schema:       validation.MustCompile(inputSchema),
		errorHandler: commonerrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	active := metrics.WorkerJobsActive.WithLabelValues(TaskType)
	active.Inc()
	defer active.Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return err
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return err
	}

	return h.completeJob(ctx, client, job, output)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	raw := []byte(job.Variables)
	if result := h.schema.ValidateBytes(raw); !result.Valid {
		return nil, commonerrors.NewInvalidInputError(result.Summary())
	}

	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("parse variables: %v", err))
	}
	return &input, nil
}

// Execute answers the query. With a job id the answer is recorded on the job;
// otherwise the orchestrator runs directly.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	req := orchestrator.Request{
		Query:   input.Query,
		Context: input.Context,
		UserID:  input.UserID,
		Role:    models.ParseUserRole(input.Role),
	}

	if input.JobID == "" {
		return fromResponse(h.queries.ProcessQuery(ctx, req)), nil
	}

	job, err := h.jobs.Run(ctx, input.JobID, req)
	if err != nil {
		return nil, err
	}

	out := &Output{JobID: job.ID, Status: string(job.Status), Error: job.Error, AgentsUsed: []string{}}
	if job.Result != nil {
		r := fromResponse(job.Result)
		out.Content, out.AgentsUsed, out.WasSynthesized = r.Content, r.AgentsUsed, r.WasSynthesized
	}

	h.logger.Info("job finished", map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
	return out, nil
}

func fromResponse(resp *orchestrator.Response) *Output {
	agentsUsed := resp.AgentsUsed
	if agentsUsed == nil {
		agentsUsed = []string{}
	}
	return &Output{
		Status:         statusDone,
		Content:        resp.Content,
		AgentsUsed:     agentsUsed,
		WasSynthesized: resp.WasSynthesized,
	}
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}
	return nil
}
