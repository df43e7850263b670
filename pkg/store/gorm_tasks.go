package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"hustl/pkg/domain"
)

// taskListQuery applies list ordering and the filter predicates. Only
// non-empty fields add a predicate; the "All" category adds none.
func taskListQuery(tx *gorm.DB, filter domain.TaskFilter) *gorm.DB {
	tx = tx.Order("created_at DESC")
	if category := strings.TrimSpace(filter.Category); category != "" && category != domain.CategoryAll {
		tx = tx.Where("category = ?", category)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		tx = tx.Where("status = ?", status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		tx = tx.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
	}
	return tx
}

func withTaskRelations(tx *gorm.DB, cols []string) *gorm.DB {
	return tx.Preload("Poster", selectColumns(cols)).Preload("Assignee", selectColumns(cols))
}

// ListTasks returns tasks matching filter, newest first, with poster and
// assignee summaries.
func (s *GormStore) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	tx := withTaskRelations(s.db.WithContext(ctx), summaryColumns)
	return findTasks(taskListQuery(tx, filter))
}

// ListTasksPostedBy returns tasks created by userID, newest first.
func (s *GormStore) ListTasksPostedBy(ctx context.Context, userID string) ([]domain.Task, error) {
	tx := withTaskRelations(s.db.WithContext(ctx), summaryColumns)
	return findTasks(tx.Where("poster_id = ?", userID).Order("created_at DESC"))
}

// ListTasksAssignedTo returns tasks assigned to userID, newest first.
func (s *GormStore) ListTasksAssignedTo(ctx context.Context, userID string) ([]domain.Task, error) {
	tx := withTaskRelations(s.db.WithContext(ctx), summaryColumns)
	return findTasks(tx.Where("assignee_id = ?", userID).Order("created_at DESC"))
}

func findTasks(tx *gorm.DB) ([]domain.Task, error) {
	var models []TaskModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Task, 0, len(models))
	for _, m := range models {
		res = append(res, taskFromModel(m))
	}
	return res, nil
}

// GetTask returns one task with poster and assignee contact details.
func (s *GormStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return s.loadTask(ctx, id, detailColumns)
}

func (s *GormStore) loadTask(ctx context.Context, id string, cols []string) (domain.Task, error) {
	var model TaskModel
	if err := withTaskRelations(s.db.WithContext(ctx), cols).First(&model, "id = ?", id).Error; err != nil {
		return domain.Task{}, notFound(err)
	}
	return taskFromModel(model), nil
}

// CreateTask inserts a task and returns the stored row.
func (s *GormStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	model := taskToModel(t)
	if err := s.db.WithContext(ctx).Omit("Poster", "Assignee").Create(&model).Error; err != nil {
		return domain.Task{}, err
	}
	return s.loadTask(ctx, model.ID, summaryColumns)
}

// UpdateTask applies the non-nil patch fields. Last write wins.
func (s *GormStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	updates := map[string]any{}
	setIf(updates, "title", patch.Title)
	setIf(updates, "description", patch.Description)
	setIf(updates, "category", patch.Category)
	setIf(updates, "price", patch.Price)
	setIf(updates, "estimated_time", patch.EstimatedTime)
	setIf(updates, "location", patch.Location)
	if patch.Urgency != nil {
		updates["urgency"] = string(*patch.Urgency)
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.AssigneeID != nil {
		if *patch.AssigneeID == "" {
			updates["assignee_id"] = nil
		} else {
			updates["assignee_id"] = *patch.AssigneeID
		}
	}
	setIf(updates, "image_url", patch.ImageURL)
	setIf(updates, "deadline", patch.Deadline)
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		res := s.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return domain.Task{}, res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Task{}, ErrNotFound
		}
	}
	return s.loadTask(ctx, id, summaryColumns)
}

// DeleteTask hard-deletes a task. Messages and applications go with it via
// foreign key cascade.
func (s *GormStore) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&TaskModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func taskToModel(t domain.Task) TaskModel {
	return TaskModel{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Category:      t.Category,
		Price:         t.Price,
		EstimatedTime: t.EstimatedTime,
		Location:      t.Location,
		Urgency:       string(t.Urgency),
		Status:        string(t.Status),
		PosterID:      t.PosterID,
		AssigneeID:    t.AssigneeID,
		ImageURL:      t.ImageURL,
		Deadline:      t.Deadline,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func taskFromModel(m TaskModel) domain.Task {
	return domain.Task{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		Category:      m.Category,
		Price:         m.Price,
		EstimatedTime: m.EstimatedTime,
		Location:      m.Location,
		Urgency:       domain.TaskUrgency(m.Urgency),
		Status:        domain.TaskStatus(m.Status),
		PosterID:      m.PosterID,
		AssigneeID:    m.AssigneeID,
		ImageURL:      m.ImageURL,
		Deadline:      m.Deadline,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Poster:        summaryFromModel(m.Poster),
		Assignee:      summaryFromModel(m.Assignee),
	}
}
