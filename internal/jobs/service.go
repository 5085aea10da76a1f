// Package jobs runs orchestrated queries asynchronously behind a submit/poll
// interface.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	commonerrors "pharma-orchestrator/internal/common/errors"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/orchestrator"
)

const (
	EventAgentCompleted = "agent.completed"

	DefaultTimeout = 120 * time.Second
	summaryRunes   = 500
)

type Processor interface {
	ProcessQuery(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

// Dispatcher hands a queued job to whatever will eventually call Service.Run.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload interface{}) (string, error)
}

type Service struct {
	store      Store
	processor  Processor
	dispatcher Dispatcher
	events     EventPublisher
	timeout    time.Duration
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Service)

func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(store Store, processor Processor, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		processor: processor,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    log.With(map[string]interface{}{"component": "jobs"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher must be called before Submit. Dispatchers usually need the
// service's Run, so they are built after the service.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Submit stores a queued job and dispatches it.
func (s *Service) Submit(ctx context.Context, req orchestrator.Request) (*Job, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, commonerrors.NewInvalidInputError("query is required")
	}
	if s.dispatcher == nil {
		return nil, commonerrors.NewInternalError(errors.New("no job dispatcher configured"))
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Request:   req,
		CreatedAt: s.now().UTC(),
	}
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error("failed to dispatch job", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		s.finish(ctx, job, nil, fmt.Sprintf("dispatch failed: %v", err))
		return job, err
	}
	if job.ProcessInstanceKey != 0 {
		s.recordProcessKey(ctx, job.ID, job.ProcessInstanceKey)
	}

	s.logger.Info("job submitted", map[string]interface{}{
		"job_id":  job.ID,
		"user_id": req.UserID,
	})
	return job, nil
}

func (s *Service) Poll(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, commonerrors.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, commonerrors.NewJobStoreFailedError(err)
	}
	return job, nil
}

// Run moves a job through running to done or failed. An unknown id is
// recorded as a new job so externally started processes are still tracked.
func (s *Service) Run(ctx context.Context, id string, req orchestrator.Request) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		job = &Job{ID: id, Request: req, CreatedAt: s.now().UTC()}
	case err != nil:
		return nil, commonerrors.NewJobStoreFailedError(err)
	case job.Status.Terminal():
		return job, nil
	}

	started := s.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp := s.processor.ProcessQuery(runCtx, job.Request)

	switch {
	case resp == nil:
		s.finish(ctx, job, nil, "no response produced")
	case resp.Cancelled && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		s.finish(ctx, job, resp, fmt.Sprintf("job timed out after %s", s.timeout))
	case resp.Cancelled:
		s.finish(ctx, job, resp, "job cancelled")
	default:
		s.finish(ctx, job, resp, "")
	}
	return job, nil
}

func (s *Service) finish(ctx context.Context, job *Job, resp *orchestrator.Response, failure string) {
	finished := s.now().UTC()
	job.FinishedAt = &finished
	if job.StartedAt != nil {
		job.DurationMs = finished.Sub(*job.StartedAt).Milliseconds()
	}
	job.Result = resp
	job.Error = failure
	job.Status = StatusDone
	if failure != "" {
		job.Status = StatusFailed
	}

	// the caller's context may already be done; the final state must still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.save(saveCtx, job); err != nil {
		s.logger.Error("failed to store finished job", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
	s.publish(saveCtx, job)
}

// save writes job over the stored copy, keeping a process instance key that
// only the stored copy knows about. The dispatcher may report the key after
// the worker has already loaded the job.
func (s *Service) save(ctx context.Context, job *Job) error {
	err := s.store.Update(ctx, job.ID, func(current *Job) *Job {
		next := *job
		if next.ProcessInstanceKey == 0 && current != nil {
			next.ProcessInstanceKey = current.ProcessInstanceKey
		}
		return &next
	})
	if err != nil {
		return commonerrors.NewJobStoreFailedError(err)
	}
	metrics.JobTransitions.WithLabelValues(string(job.Status)).Inc()
	return nil
}

// recordProcessKey sets only the key, so a status the worker already wrote is
// left alone. A failure is logged: the job itself was dispatched.
func (s *Service) recordProcessKey(ctx context.Context, id string, key int64) {
	err := s.store.Update(ctx, id, func(current *Job) *Job {
		if current == nil {
			return nil
		}
		current.ProcessInstanceKey = key
		return current
	})
	if err != nil {
		s.logger.Warn("failed to store process instance key", map[string]interface{}{
			"job_id":             id,
			"processInstanceKey": key,
			"error":              err.Error(),
		})
	}
}

func (s *Service) publish(ctx context.Context, job *Job) {
	if s.events == nil {
		return
	}
	event := CompletedEvent{
		JobID:      job.ID,
		Status:     job.Status,
		UserID:     job.Request.UserID,
		DurationMs: job.DurationMs,
		Error:      job.Error,
		Timestamp:  s.now().UTC(),
	}
	if job.Result != nil {
		event.Summary = summarize(job.Result.Content)
		event.AgentsUsed = job.Result.AgentsUsed
	}

	if _, err := s.events.PublishEvent(ctx, EventAgentCompleted, event); err != nil {
		s.logger.Warn("failed to publish job event", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func summarize(content string) string {
	r := []rune(content)
	if len(r) <= summaryRunes {
		return content
	}
	return string(r[:summaryRunes])
}
