package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hustl/internal/util"
	"hustl/pkg/domain"
	"hustl/pkg/events"
)

// Reviews are left by either party once a task is completed.
type Reviews struct {
	app *App
}

// Create stores a review and refreshes the reviewee's average rating.
func (r *Reviews) Create(ctx context.Context, in domain.ReviewInput) (domain.Review, error) {
	if current, ok := UserIDFromContext(ctx); ok {
		if in.ReviewerID != "" && in.ReviewerID != current {
			return domain.Review{}, ErrForbidden
		}
		in.ReviewerID = current
	}
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Comment = plainTextLines(in.Comment)
	v := validator{}
	v.check(in.TaskID != "", "task_id", "required")
	v.check(in.ReviewerID != "", "reviewer_id", "required")
	v.check(in.Rating >= 1 && in.Rating <= 5, "rating", "must be between 1 and 5")
	if err := v.err(); err != nil {
		return domain.Review{}, err
	}

	task, err := r.app.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.Review{}, err
	}
	if task.Status != domain.TaskCompleted || task.AssigneeID == nil {
		return domain.Review{}, fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)
	}
	var revieweeID string
	var reviewType domain.ReviewType
	switch in.ReviewerID {
	case task.PosterID:
		revieweeID, reviewType = *task.AssigneeID, domain.ReviewPosterToAssignee
	case *task.AssigneeID:
		revieweeID, reviewType = task.PosterID, domain.ReviewAssigneeToPoster
	default:
		return domain.Review{}, ErrForbidden
	}
	prior, err := r.app.store.ListReviewsFor(ctx, revieweeID)
	if err != nil {
		return domain.Review{}, err
	}
	for _, p := range prior {
		if p.TaskID == task.ID && p.ReviewerID == in.ReviewerID {
			return domain.Review{}, ErrAlreadyReviewed
		}
	}

	created, err := r.app.store.CreateReview(ctx, domain.Review{
		ID:         util.NewID(),
		TaskID:     task.ID,
		ReviewerID: in.ReviewerID,
		RevieweeID: revieweeID,
		Rating:     in.Rating,
		Comment:    in.Comment,
		ReviewType: reviewType,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.Review{}, err
	}
	logger := util.LoggerFromContext(ctx).With("user_id", revieweeID)
	if avg, err := r.app.store.AverageRating(ctx, revieweeID); err != nil {
		logger.Error("average rating failed", "err", err)
	} else if _, err := r.app.store.UpdateProfileStats(ctx, revieweeID, domain.ProfileStats{Rating: &avg}); err != nil {
		logger.Error("update rating failed", "err", err)
	}
	r.app.notify(ctx, domain.NotificationInput{
		UserID:    revieweeID,
		Type:      domain.NotifyReview,
		Title:     "New review",
		Message:   fmt.Sprintf("You received %d stars for %q.", in.Rating, task.Title),
		ActionURL: "/profile/" + revieweeID,
		Metadata:  map[string]any{"task_id": task.ID, "review_id": created.ID},
	})
	r.app.publishEvent(ctx, events.ReviewCreated, created)
	return created, nil
}

func (r *Reviews) ListForProfile(ctx context.Context, profileID string) ([]domain.Review, error) {
	return r.app.store.ListReviewsFor(ctx, profileID)
}
