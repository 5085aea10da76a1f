package camunda

import (
	"context"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"pharma-orchestrator/internal/common/logger"
)

// JobHandler completes, fails or throws the job itself; a returned error is only logged.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job) error
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(client zbc.Client, taskType string, maxJobsActive int, handler JobHandler, log logger.Logger) *CamundaWorker {
	log = log.With(map[string]interface{}{"taskType": taskType})

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(func(client worker.JobClient, job entities.Job) {
			if err := handler.Handle(client, job); err != nil {
				log.Error("handler returned error", map[string]interface{}{
					"jobKey": job.Key,
					"error":  err.Error(),
				})
			}
		}).
		MaxJobsActive(maxJobsActive).
		Open()

	log.Info("worker started", nil)
	return &CamundaWorker{worker: jobWorker, logger: log, taskType: taskType}
}

// Stop closes the job stream and waits for in-flight handlers. The Zeebe client
// is owned by the caller.
func (w *CamundaWorker) Stop(_ context.Context) {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
