package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leaseline-dev/leaseline/internal/store"
)

// envelope is the wire shape of every response body.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// reorderRequest is the body of both reorder endpoints.
type reorderRequest struct {
	Order []int64 `json:"order"`
}

type createStatusRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type createTaskRequest struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		s.logger.Error("encode error response", "error", err)
	}
}

// writeStoreError maps store failures onto the status codes the client's
// error table understands.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrOrderMismatch):
		s.writeError(w, http.StatusConflict, "submitted order does not match the collection")
	default:
		s.logger.Error("store failure", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

// --- statuses ---

func (s *Server) listStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.ListStatuses(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, statuses)
}

func (s *Server) createStatus(w http.ResponseWriter, r *http.Request) {
	var req createStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	st, err := s.store.CreateStatus(r.Context(), req.Name, req.Color)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "status.created", Data: st})
	s.writeData(w, http.StatusCreated, st)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	st, err := s.store.GetStatus(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, st)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	var patch store.StatusPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if patch.Name != nil && *patch.Name == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "name cannot be empty")
		return
	}
	st, err := s.store.UpdateStatus(r.Context(), id, patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "status.updated", Data: st})
	s.writeData(w, http.StatusOK, st)
}

func (s *Server) deleteStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	if err := s.store.DeleteStatus(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "status.deleted", Data: map[string]int64{"id": id}})
	s.writeData(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) reorderStatuses(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.ReorderStatuses(r.Context(), req.Order); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "status.reordered", Data: req.Order})
	s.writeData(w, http.StatusOK, req.Order)
}

// --- tasks ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	statusID, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), statusID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	statusID, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	var req createTaskRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Title == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "title is required")
		return
	}
	t, err := s.store.CreateTask(r.Context(), statusID, req.Title, req.Notes)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "task.created", Data: t})
	s.writeData(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "taskID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "taskID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var patch store.TaskPatch
	if !s.decode(w, r, &patch) {
		return
	}
	if patch.Title != nil && *patch.Title == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "title cannot be empty")
		return
	}
	t, err := s.store.UpdateTask(r.Context(), id, patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "task.updated", Data: t})
	s.writeData(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "taskID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "task.deleted", Data: map[string]int64{"id": id}})
	s.writeData(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) reorderTasks(w http.ResponseWriter, r *http.Request) {
	statusID, ok := pathID(r, "statusID")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid status id")
		return
	}
	var req reorderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.ReorderTasks(r.Context(), statusID, req.Order); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.feed.Broadcast(Event{Type: "task.reordered", Data: map[string]any{"statusId": statusID, "order": req.Order}})
	s.writeData(w, http.StatusOK, req.Order)
}
