package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/events"
	"hustl/pkg/storage"
)

// Tasks is the errand board.
type Tasks struct {
	app *App
}

// List returns tasks newest first. Store errors propagate unchanged.
func (t *Tasks) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return t.app.store.ListTasks(ctx, filter)
}

// Get returns one task with both parties expanded, phone included.
func (t *Tasks) Get(ctx context.Context, id string) (domain.Task, error) {
	return t.app.store.GetTask(ctx, id)
}

func (t *Tasks) ListPostedBy(ctx context.Context, userID string) ([]domain.Task, error) {
	return t.app.store.ListTasksPostedBy(ctx, userID)
}

func (t *Tasks) ListAssignedTo(ctx context.Context, userID string) ([]domain.Task, error) {
	return t.app.store.ListTasksAssignedTo(ctx, userID)
}

// Create inserts an open, unassigned task. The poster defaults to the user
// in ctx and may not name anyone else.
func (t *Tasks) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if current, ok := UserIDFromContext(ctx); ok {
		if in.PosterID != "" && in.PosterID != current {
			return domain.Task{}, ErrForbidden
		}
		in.PosterID = current
	}
	in.Title = plainText(in.Title)
	in.Description = plainTextLines(in.Description)
	in.Category = plainText(in.Category)
	in.EstimatedTime = plainText(in.EstimatedTime)
	in.Location = plainText(in.Location)
	if in.Urgency == "" {
		in.Urgency = domain.UrgencyMedium
	}

	v := validator{}
	v.check(in.Title != "", "title", "required")
	v.check(in.Category != "" && in.Category != domain.CategoryAll, "category", "required")
	v.check(in.Price.GreaterThan(decimal.Zero), "price", "must be greater than 0")
	v.check(in.Urgency.Valid(), "urgency", "must be low, medium or high")
	v.check(strings.TrimSpace(in.PosterID) != "", "poster_id", "required")
	if err := v.err(); err != nil {
		return domain.Task{}, err
	}

	now := time.Now().UTC()
	created, err := t.app.store.CreateTask(ctx, domain.Task{
		ID:            util.NewID(),
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Price:         in.Price,
		EstimatedTime: in.EstimatedTime,
		Location:      in.Location,
		Urgency:       in.Urgency,
		Status:        domain.TaskOpen,
		PosterID:      in.PosterID,
		ImageURL:      strings.TrimSpace(in.ImageURL),
		Deadline:      in.Deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := t.app.store.IncrementProfileStats(ctx, created.PosterID, domain.ProfileStatsDelta{TasksPosted: 1}); err != nil {
		util.LoggerFromContext(ctx).Warn("increment tasks_posted failed", "user_id", created.PosterID, "err", err)
	}
	t.app.publishEvent(ctx, events.TaskCreated, created)
	return created, nil
}

// Update applies a partial patch; last write wins. When ctx carries an
// identity only the poster or assignee may edit, only the poster may change
// status, price or assignee, and completion must go through Complete.
func (t *Tasks) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	v := validator{}
	if patch.Title != nil {
		title := plainText(*patch.Title)
		v.check(title != "", "title", "must not be empty")
		patch.Title = &title
	}
	if patch.Description != nil {
		desc := plainTextLines(*patch.Description)
		patch.Description = &desc
	}
	if patch.Category != nil {
		category := plainText(*patch.Category)
		v.check(category != "" && category != domain.CategoryAll, "category", "must not be empty")
		patch.Category = &category
	}
	for _, field := range []*string{patch.EstimatedTime, patch.Location} {
		if field != nil {
			*field = plainText(*field)
		}
	}
	if patch.Price != nil {
		v.check(patch.Price.GreaterThan(decimal.Zero), "price", "must be greater than 0")
	}
	if patch.Urgency != nil {
		v.check(patch.Urgency.Valid(), "urgency", "must be low, medium or high")
	}
	if patch.Status != nil {
		v.check(patch.Status.Valid(), "status", "unknown status")
	}
	if patch.AssigneeID != nil {
		trimmed := strings.TrimSpace(*patch.AssigneeID)
		patch.AssigneeID = &trimmed
	}
	if err := v.err(); err != nil {
		return domain.Task{}, err
	}

	current, err := t.app.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureParty(ctx, current); err != nil {
		return domain.Task{}, err
	}
	if actor, ok := UserIDFromContext(ctx); ok {
		if actor != current.PosterID && (patch.Status != nil || patch.Price != nil || patch.AssigneeID != nil) {
			return domain.Task{}, ErrForbidden
		}
		// completion records payment and stats, so it only happens via Complete
		if patch.Status != nil && *patch.Status == domain.TaskCompleted && current.Status != domain.TaskCompleted {
			return domain.Task{}, ErrInvalidTransition
		}
	}
	status := current.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	assigned := current.AssigneeID != nil
	if patch.AssigneeID != nil {
		assigned = *patch.AssigneeID != ""
	}
	if status == domain.TaskOpen && assigned {
		return domain.Task{}, &ValidationError{Fields: map[string]string{"assignee_id": "must be empty while the task is open"}}
	}

	updated, err := t.app.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	t.app.publishEvent(ctx, events.TaskUpdated, updated)
	return updated, nil
}

// Remove hard-deletes a task. When ctx carries an identity only the poster
// may remove it, and only while it is still open.
func (t *Tasks) Remove(ctx context.Context, id string) error {
	if current, ok := UserIDFromContext(ctx); ok {
		task, err := t.app.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if task.PosterID != current {
			return ErrForbidden
		}
		if task.Status != domain.TaskOpen {
			return ErrInvalidTransition
		}
	}
	if err := t.app.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	t.app.publishEvent(ctx, events.TaskDeleted, map[string]string{"id": id})
	return nil
}

// Complete closes an assigned task on behalf of its poster. The status
// write is the only step that can fail the call; payment, stats and the
// notification that follow are logged on failure.
func (t *Tasks) Complete(ctx context.Context, id, actorID string) (domain.Task, error) {
	task, err := t.app.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if task.PosterID != actorID {
		return domain.Task{}, ErrForbidden
	}
	if task.AssigneeID == nil || (task.Status != domain.TaskAssigned && task.Status != domain.TaskInProgress) {
		return domain.Task{}, fmt.Errorf("%w: %s task cannot be completed", ErrInvalidTransition, task.Status)
	}
	completed := domain.TaskCompleted
	updated, err := t.app.store.UpdateTask(ctx, id, domain.TaskPatch{Status: &completed})
	if err != nil {
		return domain.Task{}, err
	}

	logger := util.LoggerFromContext(ctx).With("task_id", id)
	assigneeID := *task.AssigneeID
	_, err = t.app.store.CreateTransaction(ctx, domain.Transaction{
		ID:               util.NewID(),
		TaskID:           id,
		PayerID:          task.PosterID,
		PayeeID:          assigneeID,
		Amount:           task.Price,
		Type:             domain.TransactionPayment,
		Status:           domain.TransactionCompleted,
		PaymentReference: "task:" + id,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		logger.Error("record payment failed", "err", err)
	}
	delta := domain.ProfileStatsDelta{TasksCompleted: 1, TotalEarnings: task.Price}
	if err := t.app.store.IncrementProfileStats(ctx, assigneeID, delta); err != nil {
		logger.Error("increment assignee stats failed", "user_id", assigneeID, "err", err)
	}
	t.app.notify(ctx, domain.NotificationInput{
		UserID:    assigneeID,
		Type:      domain.NotifyTaskCompleted,
		Title:     "Task completed",
		Message:   fmt.Sprintf("%q was marked complete. $%s is on its way.", task.Title, task.Price.StringFixed(2)),
		ActionURL: "/tasks/" + id,
		Metadata:  map[string]any{"task_id": id},
	})
	t.app.publishEvent(ctx, events.TaskCompleted, updated)
	return updated, nil
}

// SetImage uploads a photo for a task and records its URL.
func (t *Tasks) SetImage(ctx context.Context, id, posterID, filename string, r io.Reader, size int64) (domain.Task, error) {
	task, err := t.app.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if task.PosterID != posterID {
		return domain.Task{}, ErrForbidden
	}
	url, err := t.app.uploadImage(ctx, storage.TaskImageKey(id, filename), filename, r, size)
	if err != nil {
		return domain.Task{}, err
	}
	return t.app.store.UpdateTask(ctx, id, domain.TaskPatch{ImageURL: &url})
}

func ensureParty(ctx context.Context, task domain.Task) error {
	current, ok := UserIDFromContext(ctx)
	if !ok || current == task.PosterID {
		return nil
	}
	if task.AssigneeID != nil && *task.AssigneeID == current {
		return nil
	}
	return ErrForbidden
}
