// Package api exposes the orchestrator, async jobs, quotas and sessions over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	commonerrors "pharma-orchestrator/internal/common/errors"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/common/validation"
	"pharma-orchestrator/internal/jobs"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/orchestrator"
	"pharma-orchestrator/internal/ratelimit"
)

const maxBodyBytes = 64 << 10

type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

type JobService interface {
	Submit(ctx context.Context, req orchestrator.Request) (*jobs.Job, error)
	Poll(ctx context.Context, id string) (*jobs.Job, error)
}

type UsageReporter interface {
	Usage(ctx context.Context, caller models.Caller) []ratelimit.Usage
}

type SessionManager interface {
	Create(ctx context.Context, userID, username string, role models.UserRole) (*models.Session, error)
	Resolve(ctx context.Context, token string) (*models.Session, error)
	Revoke(ctx context.Context, token string) error
}

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	queries  QueryProcessor
	jobs     JobService
	usage    UsageReporter
	sessions SessionManager
	adminKey string
	checks   map[string]ReadinessCheck
	logger   logger.Logger
}

type Deps struct {
	Queries  QueryProcessor
	Jobs     JobService
	Usage    UsageReporter
	Sessions SessionManager
	AdminKey string
	Checks   map[string]ReadinessCheck
}

func NewHandler(deps Deps, log logger.Logger) *Handler {
	return &Handler{
		queries:  deps.Queries,
		jobs:     deps.Jobs,
		usage:    deps.Usage,
		sessions: deps.Sessions,
		adminKey: deps.AdminKey,
		checks:   deps.Checks,
		logger:   log.With(map[string]interface{}{"component": "api"}),
	}
}

type queryBody struct {
	Query   string           `json:"query"`
	Context []models.Message `json:"context,omitempty"`
}

func (b queryBody) request(caller models.Caller) orchestrator.Request {
	return orchestrator.Request{
		Query:   b.Query,
		Context: b.Context,
		UserID:  caller.UserID,
		Role:    caller.Role,
	}
}

// Query answers synchronously. Blocked and unanswerable queries are still 200.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(w, r, queryBodySchema, &body); err != nil {
		h.writeError(w, err)
		return
	}

	resp := h.queries.ProcessQuery(r.Context(), body.request(CallerFromContext(r.Context())))
	JSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(w, r, queryBodySchema, &body); err != nil {
		h.writeError(w, err)
		return
	}

	job, err := h.jobs.Submit(r.Context(), body.request(CallerFromContext(r.Context())))
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	}
	if job.ProcessInstanceKey != 0 {
		out["processInstanceKey"] = job.ProcessInstanceKey
	}
	JSON(w, http.StatusAccepted, out)
}

// GetJob hides other users' jobs behind the same 404 as a missing id.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Poll(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller := CallerFromContext(r.Context())
	if job.Request.UserID != "" && job.Request.UserID != caller.UserID && caller.Role != models.RoleAdmin {
		h.writeError(w, commonerrors.NewJobNotFoundError(id))
		return
	}
	JSON(w, http.StatusOK, job)
}

func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := CallerFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{
		"userId": caller.UserID,
		"role":   caller.Role,
		"usage":  h.usage.Usage(r.Context(), caller),
	})
}

type sessionBody struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeError(w, commonerrors.NewUnauthorizedError("a valid admin key is required"))
		return
	}

	var body sessionBody
	if err := decode(w, r, sessionBodySchema, &body); err != nil {
		h.writeError(w, err)
		return
	}

	s, err := h.sessions.Create(r.Context(), body.UserID, body.Username, models.UserRole(body.Role))
	if err != nil {
		h.writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, s)
}

// DeleteSession revokes a token. Callers may revoke their own token; the admin key revokes any.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !h.isAdmin(r) && bearerToken(r) != token {
		h.writeError(w, commonerrors.NewUnauthorizedError("cannot revoke another session"))
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		h.logger.Warn("readiness check failed", map[string]interface{}{"checks": failed})
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) isAdmin(r *http.Request) bool {
	key := r.Header.Get(AdminKeyHeader)
	if h.adminKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) == 1
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	stdErr := commonerrors.Normalize(err)
	status := commonerrors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]interface{}{
			"code":  stdErr.Code,
			"error": err.Error(),
		})
	}
	JSON(w, status, map[string]interface{}{"error": stdErr})
}

// decode reads a size-limited JSON body, validates it against schema and unmarshals it into v.
func decode(w http.ResponseWriter, r *http.Request, schema *validation.Schema, v interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return commonerrors.NewInvalidInputError("request body is too large or unreadable")
	}

	if result := schema.ValidateBytes(data); !result.Valid {
		return commonerrors.NewInvalidInputError(result.Summary()).
			WithMetadata("errors", result.Errors)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return commonerrors.NewInvalidInputError(err.Error())
	}
	return nil
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
