// Package gateway implements the thin HTTP/WebSocket adapter (§6.3/§6.4):
// a chi router exposing the worker protocol (Claim/Heartbeat/Complete/
// Fail) so an external worker process can drive the kernel without
// embedding it, plus a WebSocket upgrade that relays the kernel's
// internal/events change stream. Every handler here is request decode →
// kernel call → response encode; no business logic lives in this
// package, per SPEC_FULL.md §9.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/agentkanban/orchestrator/internal/kernel"
)

// Server holds the dependencies the gateway's handlers need.
type Server struct {
	Kernel      *kernel.Kernel
	CORSOrigins []string
}

// Routes builds the full router: worker-protocol RPCs under
// /api/projects/{projectID}/tasks/{taskID}/..., the WebSocket change
// stream at /ws/events, and an unauthenticated /healthz.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/projects/{projectID}/tasks/{taskID}", func(r chi.Router) {
		r.Post("/claim", s.handleClaim)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Post("/complete", s.handleComplete)
		r.Post("/fail", s.handleFail)
	})

	r.Get("/ws/events", s.handleStream)

	return r
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

type claimResponse struct {
	Task    any    `json:"task"`
	LeaseID string `json:"lease_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	projectID, taskID := chi.URLParam(r, "projectID"), chi.URLParam(r, "taskID")
	var body claimRequest
	if !decodeBody(w, r, &body) {
		return
	}

	t, lease, err := s.Kernel.Claim(projectID, taskID, body.WorkerID, time.Now().UTC())
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Task: t, LeaseID: lease})
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
	LeaseID  string `json:"lease_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var body heartbeatRequest
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.Kernel.Heartbeat(taskID, body.WorkerID, body.LeaseID, time.Now().UTC()); err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "worker_id": body.WorkerID, "task_id": taskID})
}

type completeRequest struct {
	WorkerID  string   `json:"worker_id"`
	LeaseID   string   `json:"lease_id"`
	CommitIDs []string `json:"commit_ids"`
	Summary   string   `json:"summary"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	projectID, taskID := chi.URLParam(r, "projectID"), chi.URLParam(r, "taskID")
	var body completeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	t, err := s.Kernel.Complete(projectID, taskID, body.WorkerID, body.LeaseID, body.CommitIDs, body.Summary, time.Now().UTC())
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type failRequest struct {
	WorkerID string `json:"worker_id"`
	LeaseID  string `json:"lease_id"`
	ErrorLog string `json:"error_log"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	projectID, taskID := chi.URLParam(r, "projectID"), chi.URLParam(r, "taskID")
	var body failRequest
	if !decodeBody(w, r, &body) {
		return
	}

	t, err := s.Kernel.Fail(projectID, taskID, body.WorkerID, body.LeaseID, body.ErrorLog, body.ExitCode, time.Now().UTC())
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// upgrader permits any configured CORS origin; browsers already enforced
// the CORS preflight on the initial handshake request, so the check here
// just guards the raw WebSocket upgrade itself.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection and relays every bus envelope to
// the subscriber until the connection drops. Subscribers may send a ping
// control frame; gorilla/websocket's default ping handler replies pong
// automatically, so no explicit handling is wired here. Connection loss
// unsubscribes and silently drops the reader, per §6.4.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.Kernel.Bus.Subscribe()
	defer s.Kernel.Bus.Unsubscribe(ch)

	// drain incoming control frames (pings, close) on their own goroutine so
	// a client that never sends anything doesn't block the writer below.
	go drainReads(conn)

	for env := range ch {
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// decodeBody decodes the JSON request body into dst. An empty body
// (io.EOF) is not an error — a heartbeat/fail caller may have nothing
// beyond the URL path to send.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeKernelError(w http.ResponseWriter, err error) {
	status := http.StatusConflict
	switch {
	case errors.Is(err, kernel.ErrWorkerNotFound), errors.Is(err, kernel.ErrTaskNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
