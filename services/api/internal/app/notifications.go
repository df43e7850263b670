package app

import (
	"context"
	"strings"
	"time"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/realtime"
)

const notificationsTable = "notifications"

// Notifications is the per-user inbox.
type Notifications struct {
	app *App
}

// ListForUser returns the user's notifications newest first.
func (n *Notifications) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	if err := ensureSelf(ctx, userID); err != nil {
		return nil, err
	}
	return n.app.store.ListNotifications(ctx, userID)
}

// Create stores a notification and pushes it to the user's channel.
func (n *Notifications) Create(ctx context.Context, in domain.NotificationInput) (domain.Notification, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Title = plainText(in.Title)
	in.Message = plainTextLines(in.Message)
	if in.Type == "" {
		in.Type = domain.NotifySystem
	}
	v := validator{}
	v.check(in.UserID != "", "user_id", "required")
	v.check(in.Type.Valid(), "type", "unknown notification type")
	v.check(in.Title != "", "title", "required")
	if err := v.err(); err != nil {
		return domain.Notification{}, err
	}

	created, err := n.app.store.CreateNotification(ctx, domain.Notification{
		ID:        util.NewID(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		ActionURL: strings.TrimSpace(in.ActionURL),
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Notification{}, err
	}
	n.app.publishInsert(ctx, realtime.UserNotificationsChannel(created.UserID), notificationsTable, created)
	return created, nil
}

// MarkRead stamps one notification read. Users may only mark their own.
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	if _, ok := UserIDFromContext(ctx); ok {
		existing, err := n.app.store.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureSelf(ctx, existing.UserID); err != nil {
			return err
		}
	}
	return n.app.store.MarkNotificationRead(ctx, id, time.Now().UTC())
}

// MarkAllRead stamps every unread notification of userID.
func (n *Notifications) MarkAllRead(ctx context.Context, userID string) error {
	if err := ensureSelf(ctx, userID); err != nil {
		return err
	}
	return n.app.store.MarkAllNotificationsRead(ctx, userID, time.Now().UTC())
}

func (n *Notifications) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := ensureSelf(ctx, userID); err != nil {
		return 0, err
	}
	return n.app.store.CountUnreadNotifications(ctx, userID)
}

// Subscribe delivers new notifications for userID until the subscription
// is closed or ctx ends.
func (n *Notifications) Subscribe(ctx context.Context, userID string, fn func(domain.Notification)) (*realtime.Subscription, error) {
	if err := ensureSelf(ctx, userID); err != nil {
		return nil, err
	}
	return n.app.broker.Subscribe(ctx, realtime.UserNotificationsChannel(userID), func(ev realtime.Event) {
		if ev.Type != realtime.EventInsert {
			return
		}
		var row domain.Notification
		if err := ev.Decode(&row); err != nil {
			util.LoggerFromContext(ctx).Warn("drop undecodable notification event", "err", err)
			return
		}
		fn(row)
	})
}

// notify creates a side-effect notification; failures are logged only.
func (a *App) notify(ctx context.Context, in domain.NotificationInput) {
	if _, err := a.Notifications.Create(ctx, in); err != nil {
		util.LoggerFromContext(ctx).Warn("create notification failed", "user_id", in.UserID, "type", in.Type, "err", err)
	}
}
