package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"hustl/pkg/domain"
)

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, _ string) {
	msgs, err := s.app.Messages.ListForTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	if !s.allowRate(w, r, s.messageLimiter, "message|"+userID, "too many messages") {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.Messages.Send(r.Context(), domain.MessageInput{
		TaskID:     mux.Vars(r)["id"],
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.app.Messages.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	convs, err := s.app.Messages.ListConversationsFor(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, convs)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, userID string) {
	items, err := s.app.Notifications.ListForUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, items)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := s.app.Notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.app.Notifications.MarkAllRead(r.Context(), userID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request, _ string) {
	if err := s.app.Notifications.MarkRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
