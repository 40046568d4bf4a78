package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cortexhub/cortex-toolrunner/internal/config"
	"github.com/cortexhub/cortex-toolrunner/internal/gate"
	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
	"github.com/cortexhub/cortex-toolrunner/internal/redact"
	"github.com/cortexhub/cortex-toolrunner/internal/registry"
	"github.com/cortexhub/cortex-toolrunner/internal/task"
)

// Identity headers supplied by the auth collaborator in front of the
// runtime.
const (
	headerCallerID     = "X-Caller-ID"
	headerCallerScopes = "X-Caller-Scopes"
)

// Server exposes the tool-invocation runtime over HTTP.
type Server struct {
	cfg            *config.Config
	gateway        *gate.Gateway
	reg            *registry.Registry
	manager        *task.Manager
	executor       *task.Executor
	metrics        *metrics.Metrics
	metricsHandler http.Handler
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	startTime      time.Time
	logger         *slog.Logger
}

// TaskView is the external task representation; the raw payload stays
// internal.
type TaskView struct {
	TaskID                string      `json:"task_id"`
	Tool                  string      `json:"tool"`
	Status                task.Status `json:"status"`
	Progress              float64     `json:"progress"`
	Result                any         `json:"result"`
	Error                 *task.Error `json:"error"`
	CreatedAt             string      `json:"created_at"`
	StartedAt             string      `json:"started_at,omitempty"`
	CompletedAt           string      `json:"completed_at,omitempty"`
	CancellationRequested bool        `json:"cancellation_requested"`
}

// CreateTaskResponse is the 202-Accepted body for the async path.
type CreateTaskResponse struct {
	TaskID              string `json:"task_id"`
	Status              string `json:"status"`
	PollURL             string `json:"poll_url"`
	CancelURL           string `json:"cancel_url"`
	EstimatedDurationMS int64  `json:"estimated_duration_ms"`
}

// CancelResponse is the 202 body for cancellation requests.
type CancelResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorBody wraps a structured error for HTTP responses.
type ErrorBody struct {
	Error any `json:"error"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	Capabilities int    `json:"capabilities"`
	Tasks        int    `json:"tasks"`
	Timestamp    string `json:"timestamp"`
}

// New creates a new HTTP server
func New(cfg *config.Config, gw *gate.Gateway, reg *registry.Registry, manager *task.Manager, executor *task.Executor, m *metrics.Metrics, metricsHandler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		gateway:        gw,
		reg:            reg,
		manager:        manager,
		executor:       executor,
		metrics:        m,
		metricsHandler: metricsHandler,
		logger:         logger,
		startTime:      time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsEndpoint)
	mux.HandleFunc("/api/v1/capabilities", s.capabilitiesHandler)
	mux.HandleFunc("/api/v1/invoke", s.invokeHandler)
	mux.HandleFunc("/api/v1/tasks", s.tasksHandler)
	mux.HandleFunc("/api/v1/tasks/", s.taskHandler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) metricsEndpoint(w http.ResponseWriter, r *http.Request) {
	if s.metricsHandler == nil {
		http.NotFound(w, r)
		return
	}
	s.metricsHandler.ServeHTTP(w, r)
}

// caller extracts the identity the auth collaborator attached. An empty id
// means unauthenticated.
func caller(r *http.Request) (id string, scopes []string) {
	id = r.Header.Get(headerCallerID)
	raw := r.Header.Get(headerCallerScopes)
	if raw != "" {
		for _, sc := range strings.Split(raw, ",") {
			if sc = strings.TrimSpace(sc); sc != "" {
				scopes = append(scopes, sc)
			}
		}
	}
	return id, scopes
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: map[string]string{"code": code, "message": message}})
}

// writeAdmissionError maps a typed admission rejection onto its HTTP
// status.
func writeAdmissionError(w http.ResponseWriter, e *gate.Error) {
	status := http.StatusBadRequest
	switch e.Code {
	case gate.CodePermissionDenied:
		status = http.StatusForbidden
	case gate.CodeRateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
	}
	writeJSON(w, status, ErrorBody{Error: e})
}

type taskRequest struct {
	Tool     string         `json:"tool"`
	Payload  map[string]any `json:"payload"`
	Priority string         `json:"priority,omitempty"`
}

// decodeTaskRequest reads the body once so the admission size check sees
// the serialized length the request arrived as.
func decodeTaskRequest(r *http.Request) (*taskRequest, int, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	var req taskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, len(raw), fmt.Errorf("invalid JSON: %w", err)
	}
	return &req, len(raw), nil
}

// admit runs the admission gateway for a decoded request. It returns false
// after writing the error response when the request is rejected.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, callerID string, scopes []string, req *taskRequest, rawSize int) bool {
	admErr := s.gateway.Admit(r.Context(), gate.Request{
		Subject:     callerID,
		Capability:  req.Tool,
		Payload:     any(req.Payload),
		RawSize:     rawSize,
		Scopes:      scopes,
		CallerClass: "user",
	})
	if admErr != nil {
		writeAdmissionError(w, admErr)
		return false
	}
	return true
}

// tasksHandler serves POST /tasks (create) and GET /tasks (list).
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createTaskHandler(w, r)
	case http.MethodGet:
		s.listTasksHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	callerID, scopes := caller(r)
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "caller identity required")
		return
	}

	req, rawSize, err := decodeTaskRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STRUCTURE", err.Error())
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "INVALID_STRUCTURE", "tool is required")
		return
	}
	if !s.reg.Known(req.Tool) {
		writeError(w, http.StatusNotFound, "TOOL_NOT_FOUND", fmt.Sprintf("unknown tool %q", req.Tool))
		return
	}

	if !s.admit(w, r, callerID, scopes, req, rawSize) {
		return
	}

	created := s.manager.Create(req.Tool, req.Payload, callerID, req.Priority)
	if err := s.executor.Submit(created.ID, created.Priority); err != nil {
		s.manager.MarkFailed(created.ID, &task.Error{Code: task.CodeExecution, Message: "worker queue full"})
		writeError(w, http.StatusServiceUnavailable, task.CodeExecution, "worker queue full, retry later")
		return
	}

	s.logger.Debug("task accepted",
		"task_id", created.ID,
		"tool", req.Tool,
		"caller", callerID,
		"payload", redact.Value(any(req.Payload)),
	)

	writeJSON(w, http.StatusAccepted, CreateTaskResponse{
		TaskID:              created.ID,
		Status:              string(task.StatusPending),
		PollURL:             "/api/v1/tasks/" + created.ID,
		CancelURL:           "/api/v1/tasks/" + created.ID,
		EstimatedDurationMS: s.estimateMS(req.Tool),
	})
}

func (s *Server) estimateMS(tool string) int64 {
	for _, c := range s.cfg.Capabilities {
		if c.Name == tool && c.GetTimeout() > 0 {
			return c.GetTimeout().Milliseconds()
		}
	}
	return s.cfg.Tasks.GetDefaultTimeout().Milliseconds()
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	callerID, _ := caller(r)
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "caller identity required")
		return
	}

	var statusFilter task.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := task.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STRUCTURE", err.Error())
			return
		}
		statusFilter = parsed
	}

	tasks := s.manager.List(callerID, statusFilter, r.URL.Query().Get("tool"))
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, view(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

// taskHandler serves GET/DELETE /tasks/{id} and GET /tasks/{id}/watch.
func (s *Server) taskHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	callerID, _ := caller(r)
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "caller identity required")
		return
	}

	switch {
	case suffix == "watch" && r.Method == http.MethodGet:
		s.watchTaskHandler(w, r, id, callerID)
	case suffix == "" && r.Method == http.MethodGet:
		s.getTaskHandler(w, r, id, callerID)
	case suffix == "" && r.Method == http.MethodDelete:
		s.cancelTaskHandler(w, r, id, callerID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeOwnershipError maps manager lookup failures: a genuinely unknown id
// is 404, someone else's task is 403.
func writeOwnershipError(w http.ResponseWriter, err error) {
	if errors.Is(err, task.ErrNotOwner) {
		writeError(w, http.StatusForbidden, "PERMISSION_DENIED", "task belongs to another caller")
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
}

func (s *Server) getTaskHandler(w http.ResponseWriter, _ *http.Request, id, callerID string) {
	t, err := s.manager.Get(id, callerID)
	if err != nil {
		writeOwnershipError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(t))
}

func (s *Server) cancelTaskHandler(w http.ResponseWriter, _ *http.Request, id, callerID string) {
	// Ownership check first so cancellation follows the same 403/404 rules
	// as reads.
	if _, err := s.manager.Get(id, callerID); err != nil {
		writeOwnershipError(w, err)
		return
	}

	snap, err := s.manager.RequestCancellation(id)
	if err != nil {
		writeOwnershipError(w, err)
		return
	}

	resp := CancelResponse{TaskID: id}
	if snap.Status.Terminal() {
		// Cancelling a finished task is a no-op, not an error.
		resp.Status = string(snap.Status)
		resp.Message = "task already in terminal state"
	} else {
		resp.Status = "cancellation_requested"
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// watchTaskHandler streams task snapshots over a websocket until the task
// reaches a terminal state.
func (s *Server) watchTaskHandler(w http.ResponseWriter, r *http.Request, id, callerID string) {
	if _, err := s.manager.Get(id, callerID); err != nil {
		writeOwnershipError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		t, err := s.manager.Get(id, callerID)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(view(t)); err != nil {
			return
		}
		if t.Status.Terminal() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// invokeHandler is the synchronous path: the capability runs inline and
// structured errors surface directly, bypassing the task state machine.
func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	callerID, scopes := caller(r)
	if callerID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "caller identity required")
		return
	}

	req, rawSize, err := decodeTaskRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STRUCTURE", err.Error())
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "INVALID_STRUCTURE", "tool is required")
		return
	}
	if !s.reg.Known(req.Tool) {
		writeError(w, http.StatusNotFound, "TOOL_NOT_FOUND", fmt.Sprintf("unknown tool %q", req.Tool))
		return
	}

	if !s.admit(w, r, callerID, scopes, req, rawSize) {
		return
	}

	inst := s.reg.Load(req.Tool)
	if inst == nil {
		writeError(w, http.StatusBadRequest, task.CodeValidation, fmt.Sprintf("capability %q could not be resolved", req.Tool))
		return
	}
	if v, ok := inst.(registry.InputValidator); ok {
		if err := v.ValidateInput(req.Payload); err != nil {
			writeError(w, http.StatusBadRequest, task.CodeValidation, err.Error())
			return
		}
	}

	timeout := time.Duration(s.estimateMS(req.Tool)) * time.Millisecond
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	start := time.Now()
	result, invokeErr := inst.Invoke(ctx, req.Payload)
	duration := time.Since(start)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.metrics.Timeout(req.Tool)
		s.metrics.Invocation(req.Tool, "timeout", "sync", duration)
		writeError(w, http.StatusGatewayTimeout, task.CodeTimeout, fmt.Sprintf("invocation exceeded %s", timeout))
	case invokeErr != nil:
		s.metrics.Invocation(req.Tool, "failure", "sync", duration)
		writeError(w, http.StatusInternalServerError, task.CodeExecution, invokeErr.Error())
	default:
		s.metrics.Invocation(req.Tool, "success", "sync", duration)
		writeJSON(w, http.StatusOK, map[string]any{"tool": req.Tool, "result": result})
	}
}

// capabilitiesHandler lists descriptors and registry stats. Discovery never
// loads an implementation.
func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": s.reg.Discover(),
		"stats":        s.reg.GetStats(),
	})
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:       "healthy",
		Version:      "1.0.0",
		Uptime:       time.Since(s.startTime).String(),
		Capabilities: len(s.reg.Discover()),
		Tasks:        s.manager.Count(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

func view(t *task.Task) TaskView {
	v := TaskView{
		TaskID:                t.ID,
		Tool:                  t.Tool,
		Status:                t.Status,
		Progress:              t.Progress,
		Result:                t.Result,
		Error:                 t.Error,
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339),
		CancellationRequested: t.CancellationRequested,
	}
	if t.StartedAt != nil {
		v.StartedAt = t.StartedAt.UTC().Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		v.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}
