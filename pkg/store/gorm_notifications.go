package store

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"hustl/pkg/domain"
)

// ListNotifications returns a user's notifications, newest first.
func (s *GormStore) ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error) {
	var models []NotificationModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		res = append(res, notificationFromModel(m))
	}
	return res, nil
}

// CreateNotification inserts a notification and returns the stored row.
func (s *GormStore) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	model, err := notificationToModel(n)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Notification{}, err
	}
	return notificationFromModel(model), nil
}

// GetNotification returns one notification.
func (s *GormStore) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	var model NotificationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Notification{}, notFound(err)
	}
	return notificationFromModel(model), nil
}

// MarkNotificationRead overwrites read_at for one row.
func (s *GormStore) MarkNotificationRead(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&NotificationModel{}).Where("id = ?", id).Update("read_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead stamps every unread notification of the user.
// Rows that already carry a read marker keep it.
func (s *GormStore) MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Update("read_at", at.UTC()).Error
}

// CountUnreadNotifications is a count-only query.
func (s *GormStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func notificationToModel(n domain.Notification) (NotificationModel, error) {
	var meta datatypes.JSON
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return NotificationModel{}, err
		}
		meta = raw
	}
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		Metadata:  meta,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}, nil
}

func notificationFromModel(m NotificationModel) domain.Notification {
	var meta map[string]any
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      domain.NotificationType(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		ActionURL: m.ActionURL,
		Metadata:  meta,
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}
