package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"hustl/pkg/domain"
)

func withMessageRelations(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Sender", selectColumns(summaryColumns)).
		Preload("Receiver", selectColumns(summaryColumns))
}

// ListMessagesForTask returns a task's messages oldest first.
func (s *GormStore) ListMessagesForTask(ctx context.Context, taskID string) ([]domain.Message, error) {
	tx := withMessageRelations(s.db.WithContext(ctx)).
		Where("task_id = ?", taskID).
		Order("created_at ASC")
	return findMessages(tx)
}

// ListMessagesForUser returns every message the user sent or received,
// newest first, with the task summary expanded.
func (s *GormStore) ListMessagesForUser(ctx context.Context, userID string) ([]domain.Message, error) {
	tx := withMessageRelations(s.db.WithContext(ctx)).
		Preload("Task", selectColumns([]string{"id", "title", "status"})).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at DESC")
	return findMessages(tx)
}

func findMessages(tx *gorm.DB) ([]domain.Message, error) {
	var models []MessageModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// CreateMessage inserts a message and returns it with sender and receiver.
func (s *GormStore) CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	model := messageToModel(m)
	if err := s.db.WithContext(ctx).Omit("Task", "Sender", "Receiver").Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return s.GetMessage(ctx, model.ID)
}

// GetMessage returns one message with sender and receiver.
func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	var model MessageModel
	if err := withMessageRelations(s.db.WithContext(ctx)).First(&model, "id = ?", id).Error; err != nil {
		return domain.Message{}, notFound(err)
	}
	return messageFromModel(model), nil
}

// MarkMessageRead overwrites read_at unconditionally.
func (s *GormStore) MarkMessageRead(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", id).Update("read_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:         m.ID,
		TaskID:     m.TaskID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	msg := domain.Message{
		ID:         m.ID,
		TaskID:     m.TaskID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
		Sender:     summaryFromModel(m.Sender),
		Receiver:   summaryFromModel(m.Receiver),
	}
	if m.Task != nil {
		msg.Task = &domain.TaskSummary{
			ID:     m.Task.ID,
			Title:  m.Task.Title,
			Status: domain.TaskStatus(m.Task.Status),
		}
	}
	return msg
}
