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

// Applications lets helpers offer to run an errand and posters pick one.
type Applications struct {
	app *App
}

// Apply records a pending application on an open task.
func (a *Applications) Apply(ctx context.Context, in domain.ApplicationInput) (domain.TaskApplication, error) {
	if current, ok := UserIDFromContext(ctx); ok {
		if in.ApplicantID != "" && in.ApplicantID != current {
			return domain.TaskApplication{}, ErrForbidden
		}
		in.ApplicantID = current
	}
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.Message = plainTextLines(in.Message)
	v := validator{}
	v.check(in.TaskID != "", "task_id", "required")
	v.check(in.ApplicantID != "", "applicant_id", "required")
	if err := v.err(); err != nil {
		return domain.TaskApplication{}, err
	}

	task, err := a.app.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.TaskApplication{}, err
	}
	if task.PosterID == in.ApplicantID {
		return domain.TaskApplication{}, &ValidationError{Fields: map[string]string{"applicant_id": "cannot apply to your own task"}}
	}
	if task.Status != domain.TaskOpen {
		return domain.TaskApplication{}, fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)
	}
	existing, err := a.app.store.ListApplicationsByApplicant(ctx, in.ApplicantID)
	if err != nil {
		return domain.TaskApplication{}, err
	}
	for _, prev := range existing {
		if prev.TaskID == in.TaskID && prev.Status == domain.ApplicationPending {
			return domain.TaskApplication{}, ErrAlreadyApplied
		}
	}

	now := time.Now().UTC()
	created, err := a.app.store.CreateApplication(ctx, domain.TaskApplication{
		ID:          util.NewID(),
		TaskID:      in.TaskID,
		ApplicantID: in.ApplicantID,
		Status:      domain.ApplicationPending,
		Message:     in.Message,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.TaskApplication{}, err
	}
	a.app.notify(ctx, domain.NotificationInput{
		UserID:    task.PosterID,
		Type:      domain.NotifyTaskApplication,
		Title:     "New application",
		Message:   fmt.Sprintf("Someone wants to run %q.", task.Title),
		ActionURL: "/tasks/" + task.ID,
		Metadata:  map[string]any{"task_id": task.ID, "application_id": created.ID},
	})
	return created, nil
}

// ListForTask returns a task's applications. Only the poster may list them
// when ctx carries an identity.
func (a *Applications) ListForTask(ctx context.Context, taskID string) ([]domain.TaskApplication, error) {
	if current, ok := UserIDFromContext(ctx); ok {
		task, err := a.app.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.PosterID != current {
			return nil, ErrForbidden
		}
	}
	return a.app.store.ListApplicationsForTask(ctx, taskID)
}

func (a *Applications) ListForApplicant(ctx context.Context, applicantID string) ([]domain.TaskApplication, error) {
	if err := ensureSelf(ctx, applicantID); err != nil {
		return nil, err
	}
	return a.app.store.ListApplicationsByApplicant(ctx, applicantID)
}

// Accept assigns the task to the applicant. Other pending applications on
// the task are rejected.
func (a *Applications) Accept(ctx context.Context, applicationID, actorID string) (domain.Task, error) {
	application, err := a.app.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Task{}, err
	}
	task, err := a.app.store.GetTask(ctx, application.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.PosterID != actorID {
		return domain.Task{}, ErrForbidden
	}
	if task.Status != domain.TaskOpen || application.Status != domain.ApplicationPending {
		return domain.Task{}, fmt.Errorf("%w: task %s, application %s", ErrInvalidTransition, task.Status, application.Status)
	}

	assigned := domain.TaskAssigned
	assignee := application.ApplicantID
	updated, err := a.app.store.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &assigned, AssigneeID: &assignee})
	if err != nil {
		return domain.Task{}, err
	}
	logger := util.LoggerFromContext(ctx).With("task_id", task.ID)
	if _, err := a.app.store.SetApplicationStatus(ctx, application.ID, domain.ApplicationAccepted); err != nil {
		logger.Error("mark application accepted failed", "application_id", application.ID, "err", err)
	}
	others, err := a.app.store.ListApplicationsForTask(ctx, task.ID)
	if err != nil {
		logger.Error("list competing applications failed", "err", err)
	}
	for _, other := range others {
		if other.ID == application.ID || other.Status != domain.ApplicationPending {
			continue
		}
		if _, err := a.app.store.SetApplicationStatus(ctx, other.ID, domain.ApplicationRejected); err != nil {
			logger.Error("reject application failed", "application_id", other.ID, "err", err)
		}
	}
	a.app.notify(ctx, domain.NotificationInput{
		UserID:    assignee,
		Type:      domain.NotifyTaskAssigned,
		Title:     "You got the task",
		Message:   fmt.Sprintf("You were picked to run %q.", task.Title),
		ActionURL: "/tasks/" + task.ID,
		Metadata:  map[string]any{"task_id": task.ID},
	})
	a.app.publishEvent(ctx, events.TaskAssigned, updated)
	return updated, nil
}

// Withdraw cancels the actor's own pending application.
func (a *Applications) Withdraw(ctx context.Context, applicationID, actorID string) (domain.TaskApplication, error) {
	application, err := a.app.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.TaskApplication{}, err
	}
	if application.ApplicantID != actorID {
		return domain.TaskApplication{}, ErrForbidden
	}
	if application.Status != domain.ApplicationPending {
		return domain.TaskApplication{}, fmt.Errorf("%w: application is %s", ErrInvalidTransition, application.Status)
	}
	return a.app.store.SetApplicationStatus(ctx, application.ID, domain.ApplicationWithdrawn)
}
