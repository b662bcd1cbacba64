package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/todo"
	"intake-chatbot/pkg"
)

// Server bundles the dependencies required by the HTTP handlers. It
// implements http.Handler so it can be passed to http.ListenAndServe.
// One server hosts one conversation session at a time, matching the
// single-slot draft design.
type Server struct {
	Session  *core.Session
	Store    db.Store
	Todos    *todo.Queue
	Notifier *db.Notifier // nil when not running on Postgres
	Log      *zap.Logger
}

// NewServer constructs a Server.
func NewServer(session *core.Session, store db.Store, todos *todo.Queue,
	notifier *db.Notifier, log *zap.Logger) *Server {
	return &Server{Session: session, Store: store, Todos: todos, Notifier: notifier, Log: log}
}

// ServeHTTP dispatches requests by URL path. Minimal routing logic keeps
// dependencies light.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/conversation/messages" && r.Method == http.MethodPost:
		s.handleMessage(w, r)
	case path == "/api/conversation/resume" && r.Method == http.MethodPost:
		s.handleResume(w, r)
	case path == "/api/conversation" && r.Method == http.MethodGet:
		s.handleConversation(w, r)
	case path == "/api/conversation" && r.Method == http.MethodDelete:
		s.handleDiscard(w, r)
	case path == "/api/issues" && r.Method == http.MethodGet:
		s.handleListIssues(w, r)
	case path == "/api/issues" && r.Method == http.MethodPost:
		s.handleCreateIssue(w, r)
	case strings.HasPrefix(path, "/api/issues/") && strings.HasSuffix(path, "/resolve") && r.Method == http.MethodPost:
		s.handleResolveIssue(w, r, pathSegment(path, 2))
	case strings.HasPrefix(path, "/api/issues/") && r.Method == http.MethodDelete:
		s.handleDeleteIssue(w, r, pathSegment(path, 2))
	case path == "/api/todos" && r.Method == http.MethodGet:
		s.handleListTodos(w, r)
	case strings.HasPrefix(path, "/api/todos/") && r.Method == http.MethodDelete:
		s.handleDropTodo(w, r, pathSegment(path, 2))
	case path == "/api/records" && r.Method == http.MethodGet:
		s.handleListRecords(w, r)
	case path == "/api/records/stream" && r.Method == http.MethodGet:
		s.handleRecordStream(w, r)
	default:
		http.NotFound(w, r)
	}
}

type messageRequest struct {
	Content string `json:"content"`
}

// handleMessage advances the conversation by one user utterance.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	reply, err := s.Session.HandleMessage(r.Context(), req.Content)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}
	writeJSON(w, reply)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	resumed, err := s.Session.Resume(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"resumed": resumed})
}

func (s *Server) handleConversation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"phase":   s.Session.Phase(),
		"history": s.Session.History(),
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Discard(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	var status *pkg.IssueStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := pkg.IssueStatus(q)
		if st != pkg.IssueActive && st != pkg.IssueResolved {
			http.Error(w, fmt.Sprintf("unknown status %q", q), http.StatusBadRequest)
			return
		}
		status = &st
	}
	issues, err := s.Store.ListIssues(r.Context(), status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, issues)
}

type createIssueRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
}

// handleCreateIssue creates an issue from an explicit user selection.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", req.StartDate); err != nil {
		http.Error(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	issue := &pkg.Issue{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Status:    pkg.IssueActive,
		StartDate: req.StartDate,
		CreatedAt: time.Now(),
	}
	if err := s.Store.PutIssue(r.Context(), issue); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, issue)
}

type resolveIssueRequest struct {
	EndDate string `json:"end_date"`
}

// handleResolveIssue transitions an issue to resolved. The end date
// defaults to today and is never allowed before the start date.
func (s *Server) handleResolveIssue(w http.ResponseWriter, r *http.Request, id string) {
	var req resolveIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	issue, err := s.Store.GetIssue(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	end := req.EndDate
	if end == "" {
		end = time.Now().Format("2006-01-02")
	}
	endT, err := time.Parse("2006-01-02", end)
	if err != nil {
		http.Error(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	startT, err := time.Parse("2006-01-02", issue.StartDate)
	if err == nil && endT.Before(startT) {
		http.Error(w, "end_date cannot be before start_date", http.StatusBadRequest)
		return
	}
	issue.Status = pkg.IssueResolved
	issue.EndDate = &end
	if err := s.Store.PutIssue(r.Context(), issue); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, issue)
}

// handleDeleteIssue removes an issue; its member records are unlinked,
// never deleted.
func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.Store.DeleteIssue(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	items, err := s.Todos.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []pkg.TodoItem{}
	}
	writeJSON(w, items)
}

// handleDropTodo removes a queued subject: completed by default, or
// declined when ?declined=true.
func (s *Server) handleDropTodo(w http.ResponseWriter, r *http.Request, id string) {
	var (
		ok  bool
		err error
	)
	if r.URL.Query().Get("declined") == "true" {
		ok, err = s.Todos.Remove(r.Context(), id)
	} else {
		ok, err = s.Todos.Complete(r.Context(), id)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.Store.QueryRecords(r.Context(), db.RecordQuery{Limit: 50})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []pkg.Record{}
	}
	writeJSON(w, records)
}

// handleRecordStream streams committed record ids over SSE, backed by the
// Postgres NOTIFY channel. Without a notifier the endpoint reports that
// streaming is unavailable.
func (s *Server) handleRecordStream(w http.ResponseWriter, r *http.Request) {
	if s.Notifier == nil {
		http.Error(w, "streaming requires the postgres store", http.StatusNotImplemented)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := s.Notifier.Listen(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()
	for recordID := range events {
		payload, _ := json.Marshal(map[string]string{
			"type":      "record_committed",
			"record_id": recordID,
		})
		if _, err := io.WriteString(w, "data: "+string(payload)+"\n\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

// writeTurnError maps engine errors onto HTTP statuses: turn-level
// failures are 422 with the kind exposed so the client can re-prompt.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	var terr *core.TurnError
	if errors.As(err, &terr) {
		s.Log.Warn("turn failed",
			zap.String("kind", string(terr.Kind)), zap.String("message", terr.Message))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"kind":    string(terr.Kind),
			"message": terr.Message,
		})
		return
	}
	s.Log.Error("turn failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func pathSegment(path string, idx int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if idx < len(parts) {
		return parts[idx]
	}
	return ""
}
