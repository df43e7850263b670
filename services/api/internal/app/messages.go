package app

import (
	"context"
	"strings"
	"time"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/events"
	"hustl/pkg/realtime"
)

const messagesTable = "messages"

// Messages is the per-task chat between poster and helper.
type Messages struct {
	app *App
}

// ListForTask returns the task's messages oldest first. The poster sees the
// whole chat; anyone else sees only messages they sent or received.
func (m *Messages) ListForTask(ctx context.Context, taskID string) ([]domain.Message, error) {
	viewer, err := m.viewer(ctx, taskID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.app.store.ListMessagesForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if viewer == "" {
		return msgs, nil
	}
	own := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if involves(msg, viewer) {
			own = append(own, msg)
		}
	}
	return own, nil
}

// Send stores a message and pushes the raw row to the task channel. A
// failed push does not fail the send.
func (m *Messages) Send(ctx context.Context, in domain.MessageInput) (domain.Message, error) {
	if current, ok := UserIDFromContext(ctx); ok {
		if in.SenderID != "" && in.SenderID != current {
			return domain.Message{}, ErrForbidden
		}
		in.SenderID = current
	}
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.ReceiverID = strings.TrimSpace(in.ReceiverID)
	in.Content = plainTextLines(in.Content)
	v := validator{}
	v.check(in.TaskID != "", "task_id", "required")
	v.check(in.SenderID != "", "sender_id", "required")
	v.check(in.ReceiverID != "", "receiver_id", "required")
	v.check(in.ReceiverID == "" || in.ReceiverID != in.SenderID, "receiver_id", "must differ from sender")
	v.check(in.Content != "", "content", "required")
	if err := v.err(); err != nil {
		return domain.Message{}, err
	}
	task, err := m.app.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.Message{}, err
	}
	if in.SenderID != task.PosterID && in.ReceiverID != task.PosterID {
		return domain.Message{}, ErrForbidden
	}

	created, err := m.app.store.CreateMessage(ctx, domain.Message{
		ID:         util.NewID(),
		TaskID:     in.TaskID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.Message{}, err
	}
	raw := created
	raw.Sender, raw.Receiver, raw.Task = nil, nil, nil
	m.app.publishInsert(ctx, realtime.TaskMessagesChannel(created.TaskID), messagesTable, raw)
	m.app.publishEvent(ctx, events.MessageSent, raw)
	return created, nil
}

// MarkRead stamps a message read now. With an identity in ctx only the
// receiver may do so.
func (m *Messages) MarkRead(ctx context.Context, messageID string) error {
	if current, ok := UserIDFromContext(ctx); ok {
		msg, err := m.app.store.GetMessage(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.ReceiverID != current {
			return ErrForbidden
		}
	}
	return m.app.store.MarkMessageRead(ctx, messageID, time.Now().UTC())
}

// Subscribe delivers raw message rows inserted on taskID until the
// subscription is closed or ctx ends. Visibility follows ListForTask.
func (m *Messages) Subscribe(ctx context.Context, taskID string, fn func(domain.Message)) (*realtime.Subscription, error) {
	viewer, err := m.viewer(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return m.app.broker.Subscribe(ctx, realtime.TaskMessagesChannel(taskID), func(ev realtime.Event) {
		if ev.Type != realtime.EventInsert {
			return
		}
		var row domain.Message
		if err := ev.Decode(&row); err != nil {
			util.LoggerFromContext(ctx).Warn("drop undecodable message event", "err", err)
			return
		}
		if viewer != "" && !involves(row, viewer) {
			return
		}
		fn(row)
	})
}

// viewer returns "" when ctx may see every message on taskID: trusted
// callers and the poster. Other callers get their own id back if they take
// part in the task as assignee, applicant or correspondent.
func (m *Messages) viewer(ctx context.Context, taskID string) (string, error) {
	current, ok := UserIDFromContext(ctx)
	if !ok {
		return "", nil
	}
	task, err := m.app.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.PosterID == current {
		return "", nil
	}
	if task.AssigneeID != nil && *task.AssigneeID == current {
		return current, nil
	}
	apps, err := m.app.store.ListApplicationsForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	for _, a := range apps {
		if a.ApplicantID == current {
			return current, nil
		}
	}
	msgs, err := m.app.store.ListMessagesForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	for _, msg := range msgs {
		if involves(msg, current) {
			return current, nil
		}
	}
	return "", ErrForbidden
}

func involves(msg domain.Message, userID string) bool {
	return msg.SenderID == userID || msg.ReceiverID == userID
}

// ListConversationsFor returns one entry per task the user has chatted on,
// most recent first.
func (m *Messages) ListConversationsFor(ctx context.Context, userID string) ([]domain.Conversation, error) {
	if err := ensureSelf(ctx, userID); err != nil {
		return nil, err
	}
	msgs, err := m.app.store.ListMessagesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return reduceConversations(userID, msgs), nil
}

// reduceConversations expects msgs newest first. The first message seen per
// task is its latest; unread counts every message in the task addressed to
// userID without read_at.
func reduceConversations(userID string, msgs []domain.Message) []domain.Conversation {
	out := make([]domain.Conversation, 0)
	index := make(map[string]int)
	for _, msg := range msgs {
		i, seen := index[msg.TaskID]
		if !seen {
			other := msg.Sender
			otherID := msg.SenderID
			if msg.SenderID == userID {
				other = msg.Receiver
				otherID = msg.ReceiverID
			}
			if other == nil {
				other = &domain.ProfileSummary{ID: otherID}
			}
			out = append(out, domain.Conversation{
				TaskID:        msg.TaskID,
				Task:          msg.Task,
				OtherUser:     other,
				LatestMessage: msg,
			})
			i = len(out) - 1
			index[msg.TaskID] = i
		}
		if msg.ReceiverID == userID && msg.ReadAt == nil {
			out[i].UnreadCount++
		}
	}
	return out
}
