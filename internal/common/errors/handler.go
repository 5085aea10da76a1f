// internal/common/errors/handler.go
package errors

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler fails or throws Zeebe jobs from StandardErrors.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Decision describes what HandleJobError does with a job.
type Decision struct {
	Throw   bool
	Retries int
	BPMN    *BPMNError
}

// Decide normalizes err and picks between a retrying fail and a BPMN throw.
func (h *ErrorHandler) Decide(job entities.Job, err error) Decision {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)

	retries := bpmnErr.Retries
	if retries > 0 && job.Retries > 0 {
		if int(job.Retries) < retries {
			retries = int(job.Retries)
		}
		return Decision{Retries: retries, BPMN: bpmnErr}
	}
	return Decision{Throw: true, BPMN: bpmnErr}
}

// HandleJobError handles any error in a worker job.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	d := h.Decide(job, err)
	h.logError(job, d)

	vars, _ := json.Marshal(d.BPMN.ToErrorVariables())

	if d.Throw {
		cmd := client.NewThrowErrorCommand().
			JobKey(job.Key).
			ErrorCode(d.BPMN.Code).
			ErrorMessage(d.BPMN.Message)
		if withVars, vErr := cmd.VariablesFromString(string(vars)); vErr == nil {
			_, _ = withVars.Send(ctx)
			return
		}
		_, _ = cmd.Send(ctx)
		return
	}

	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(d.Retries)).
		ErrorMessage(d.BPMN.Message)
	if withVars, vErr := cmd.VariablesFromString(string(vars)); vErr == nil {
		_, _ = withVars.Send(ctx)
		return
	}
	_, _ = cmd.Send(ctx)
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

func (h *ErrorHandler) logError(job entities.Job, d Decision) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"bpmnErrorCode":    d.BPMN.Code,
		"message":          d.BPMN.Message,
		"details":          d.BPMN.Details,
		"retryable":        d.BPMN.Retryable,
		"retries":          d.Retries,
		"thrown":           d.Throw,
		"errorCategory":    GetErrorCategory(ErrorCode(d.BPMN.Code)),
		"workflowInstance": job.ProcessInstanceKey,
	})
}
