package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"hustl/pkg/domain"
	"hustl/services/api/internal/app"
)

type applyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, _ string) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Status:   domain.TaskStatus(strings.TrimSpace(q.Get("status"))),
		Search:   q.Get("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeAppError(w, r, &app.ValidationError{Fields: map[string]string{"status": "unknown status"}})
		return
	}
	tasks, err := s.app.Tasks.List(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, _ string) {
	var req domain.TaskInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.app.Tasks.Create(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, _ string) {
	task, err := s.app.Tasks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, _ string) {
	var patch domain.TaskPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	task, err := s.app.Tasks.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.app.Tasks.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.app.Tasks.Complete(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskImage(w http.ResponseWriter, r *http.Request, userID string) {
	file, filename, size, ok := s.readImage(w, r)
	if !ok {
		return
	}
	defer file.Close()
	task, err := s.app.Tasks.SetImage(r.Context(), mux.Vars(r)["id"], userID, filename, file, size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePostedTasks(w http.ResponseWriter, r *http.Request, userID string) {
	tasks, err := s.app.Tasks.ListPostedBy(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, tasks)
}

func (s *Server) handleAssignedTasks(w http.ResponseWriter, r *http.Request, userID string) {
	tasks, err := s.app.Tasks.ListAssignedTo(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, tasks)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request, _ string) {
	apps, err := s.app.Applications.ListForTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, apps)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, _ string) {
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	application, err := s.app.Applications.Apply(r.Context(), domain.ApplicationInput{
		TaskID:  mux.Vars(r)["id"],
		Message: req.Message,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, application)
}

func (s *Server) handleMyApplications(w http.ResponseWriter, r *http.Request, userID string) {
	apps, err := s.app.Applications.ListForApplicant(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, apps)
}

func (s *Server) handleAcceptApplication(w http.ResponseWriter, r *http.Request, userID string) {
	task, err := s.app.Applications.Accept(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleWithdrawApplication(w http.ResponseWriter, r *http.Request, userID string) {
	application, err := s.app.Applications.Withdraw(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, application)
}
