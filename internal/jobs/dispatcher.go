package jobs

import (
	"context"
	"errors"
	"sync"

	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/metrics"
	"pharma-orchestrator/internal/orchestrator"
)

const (
	DispatcherLocal = "local"
	DispatcherZeebe = "zeebe"

	localTaskType = "local-query-job"
)

var (
	ErrQueueFull        = errors.New("job queue is full")
	ErrDispatcherClosed = errors.New("job dispatcher is closed")
)

// RunFunc executes a job; Service.Run satisfies it.
type RunFunc func(ctx context.Context, id string, req orchestrator.Request) (*Job, error)

type task struct {
	id  string
	req orchestrator.Request
}

// LocalDispatcher runs jobs on a fixed pool of goroutines fed by a bounded queue.
type LocalDispatcher struct {
	run    RunFunc
	queue  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

func NewLocalDispatcher(run RunFunc, poolSize int, log logger.Logger) *LocalDispatcher {
	if poolSize <= 0 {
		poolSize = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LocalDispatcher{
		run:    run,
		queue:  make(chan task, poolSize*16),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(map[string]interface{}{"component": "local-dispatcher"}),
	}
	for i := 0; i < poolSize; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *LocalDispatcher) work() {
	defer d.wg.Done()
	for t := range d.queue {
		metrics.WorkerJobsActive.WithLabelValues(localTaskType).Inc()
		if _, err := d.run(d.ctx, t.id, t.req); err != nil {
			d.logger.Error("job run failed", map[string]interface{}{
				"job_id": t.id,
				"error":  err.Error(),
			})
		}
		metrics.WorkerJobsActive.WithLabelValues(localTaskType).Dec()
	}
}

// Dispatch enqueues without blocking.
func (d *LocalDispatcher) Dispatch(_ context.Context, job *Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- task{id: job.ID, req: job.Request}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work, waits for queued jobs to finish or ctx to end,
// then cancels anything still running.
func (d *LocalDispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

// ProcessStarter starts a BPMN process instance.
type ProcessStarter interface {
	CreateProcessInstance(ctx context.Context, processID string, vars map[string]interface{}) (int64, error)
}

// ZeebeDispatcher starts one process instance per job; the process-pharma-query
// worker calls Service.Run.
type ZeebeDispatcher struct {
	starter   ProcessStarter
	processID string
	logger    logger.Logger
}

func NewZeebeDispatcher(starter ProcessStarter, processID string, log logger.Logger) *ZeebeDispatcher {
	return &ZeebeDispatcher{
		starter:   starter,
		processID: processID,
		logger:    log.With(map[string]interface{}{"component": "zeebe-dispatcher"}),
	}
}

func (d *ZeebeDispatcher) Dispatch(ctx context.Context, job *Job) error {
	vars := map[string]interface{}{
		"jobId":  job.ID,
		"query":  job.Request.Query,
		"userId": job.Request.UserID,
		"role":   string(job.Request.Role),
	}
	if len(job.Request.Context) > 0 {
		vars["context"] = job.Request.Context
	}

	key, err := d.starter.CreateProcessInstance(ctx, d.processID, vars)
	if err != nil {
		return err
	}
	job.ProcessInstanceKey = key
	d.logger.Info("process instance created", map[string]interface{}{
		"job_id":             job.ID,
		"processInstanceKey": key,
	})
	return nil
}
