package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/realtime"
)

// sseFrame is one server-sent event.
type sseFrame struct {
	id    string
	event string
	data  any
}

func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request, _ string) {
	taskID := mux.Vars(r)["id"]
	s.stream(w, r, func(ctx context.Context, out chan<- sseFrame) (*realtime.Subscription, error) {
		return s.app.Messages.Subscribe(ctx, taskID, func(m domain.Message) {
			select {
			case out <- sseFrame{id: m.ID, event: "message", data: m}:
			case <-ctx.Done():
			}
		})
	})
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request, userID string) {
	s.stream(w, r, func(ctx context.Context, out chan<- sseFrame) (*realtime.Subscription, error) {
		return s.app.Notifications.Subscribe(ctx, userID, func(n domain.Notification) {
			select {
			case out <- sseFrame{id: n.ID, event: "notification", data: n}:
			case <-ctx.Done():
			}
		})
	})
}

// stream subscribes first so failures still get a JSON error, then holds
// the response open until the client leaves or the subscription ends.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, subscribe func(context.Context, chan<- sseFrame) (*realtime.Subscription, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	frames := make(chan sseFrame, 16)
	sub, err := subscribe(ctx, frames)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer sub.Close()

	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	logger := util.LoggerFromContext(ctx).With("channel", sub.Channel())
	logger.Info("stream opened")
	defer logger.Info("stream closed")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case frame := <-frames:
			if err := writeFrame(w, frame); err != nil {
				logger.Warn("stream write failed", "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, f sseFrame) error {
	data, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", f.id, f.event, data)
	return err
}
