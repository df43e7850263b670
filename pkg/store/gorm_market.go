package store

import (
	"context"
	"database/sql"
	"time"

	"hustl/pkg/domain"
)

// CreateApplication records a bid on a task.
func (s *GormStore) CreateApplication(ctx context.Context, a domain.TaskApplication) (domain.TaskApplication, error) {
	model := applicationToModel(a)
	if err := s.db.WithContext(ctx).Omit("Task", "Applicant").Create(&model).Error; err != nil {
		return domain.TaskApplication{}, err
	}
	return s.GetApplication(ctx, model.ID)
}

// GetApplication returns one application with the applicant summary.
func (s *GormStore) GetApplication(ctx context.Context, id string) (domain.TaskApplication, error) {
	var model TaskApplicationModel
	if err := s.db.WithContext(ctx).
		Preload("Applicant", selectColumns(summaryColumns)).
		First(&model, "id = ?", id).Error; err != nil {
		return domain.TaskApplication{}, notFound(err)
	}
	return applicationFromModel(model), nil
}

// ListApplicationsForTask returns a task's applications, oldest first.
func (s *GormStore) ListApplicationsForTask(ctx context.Context, taskID string) ([]domain.TaskApplication, error) {
	return s.listApplications(ctx, "task_id = ?", taskID)
}

// ListApplicationsByApplicant returns a user's own applications.
func (s *GormStore) ListApplicationsByApplicant(ctx context.Context, applicantID string) ([]domain.TaskApplication, error) {
	return s.listApplications(ctx, "applicant_id = ?", applicantID)
}

func (s *GormStore) listApplications(ctx context.Context, query string, arg string) ([]domain.TaskApplication, error) {
	var models []TaskApplicationModel
	if err := s.db.WithContext(ctx).
		Preload("Applicant", selectColumns(summaryColumns)).
		Where(query, arg).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.TaskApplication, 0, len(models))
	for _, m := range models {
		res = append(res, applicationFromModel(m))
	}
	return res, nil
}

// SetApplicationStatus updates an application's status.
func (s *GormStore) SetApplicationStatus(ctx context.Context, id string, status domain.ApplicationStatus) (domain.TaskApplication, error) {
	res := s.db.WithContext(ctx).Model(&TaskApplicationModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return domain.TaskApplication{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.TaskApplication{}, ErrNotFound
	}
	return s.GetApplication(ctx, id)
}

// CreateReview stores a review.
func (s *GormStore) CreateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	model := ReviewModel{
		ID:         r.ID,
		TaskID:     r.TaskID,
		ReviewerID: r.ReviewerID,
		RevieweeID: r.RevieweeID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		ReviewType: string(r.ReviewType),
		CreatedAt:  r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Omit("Reviewer").Create(&model).Error; err != nil {
		return domain.Review{}, err
	}
	return reviewFromModel(model), nil
}

// ListReviewsFor returns reviews received by a profile, newest first.
func (s *GormStore) ListReviewsFor(ctx context.Context, revieweeID string) ([]domain.Review, error) {
	var models []ReviewModel
	if err := s.db.WithContext(ctx).
		Preload("Reviewer", selectColumns(summaryColumns)).
		Where("reviewee_id = ?", revieweeID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// AverageRating returns the mean rating received, or 0 without reviews.
func (s *GormStore) AverageRating(ctx context.Context, revieweeID string) (float64, error) {
	var avg sql.NullFloat64
	if err := s.db.WithContext(ctx).Model(&ReviewModel{}).
		Select("AVG(rating)").
		Where("reviewee_id = ?", revieweeID).
		Row().Scan(&avg); err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// CreateTransaction stores a money movement.
func (s *GormStore) CreateTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	model := TransactionModel{
		ID:               t.ID,
		TaskID:           t.TaskID,
		PayerID:          t.PayerID,
		PayeeID:          t.PayeeID,
		Amount:           t.Amount,
		Type:             string(t.Type),
		Status:           string(t.Status),
		PaymentReference: t.PaymentReference,
		CreatedAt:        t.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Transaction{}, err
	}
	return transactionFromModel(model), nil
}

// ListTransactionsFor returns transactions where the user pays or is paid.
func (s *GormStore) ListTransactionsFor(ctx context.Context, userID string) ([]domain.Transaction, error) {
	var models []TransactionModel
	if err := s.db.WithContext(ctx).
		Where("payer_id = ? OR payee_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Transaction, 0, len(models))
	for _, m := range models {
		res = append(res, transactionFromModel(m))
	}
	return res, nil
}

func applicationToModel(a domain.TaskApplication) TaskApplicationModel {
	return TaskApplicationModel{
		ID:          a.ID,
		TaskID:      a.TaskID,
		ApplicantID: a.ApplicantID,
		Status:      string(a.Status),
		Message:     a.Message,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func applicationFromModel(m TaskApplicationModel) domain.TaskApplication {
	return domain.TaskApplication{
		ID:          m.ID,
		TaskID:      m.TaskID,
		ApplicantID: m.ApplicantID,
		Status:      domain.ApplicationStatus(m.Status),
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Applicant:   summaryFromModel(m.Applicant),
	}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{
		ID:         m.ID,
		TaskID:     m.TaskID,
		ReviewerID: m.ReviewerID,
		RevieweeID: m.RevieweeID,
		Rating:     m.Rating,
		Comment:    m.Comment,
		ReviewType: domain.ReviewType(m.ReviewType),
		CreatedAt:  m.CreatedAt,
		Reviewer:   summaryFromModel(m.Reviewer),
	}
}

func transactionFromModel(m TransactionModel) domain.Transaction {
	return domain.Transaction{
		ID:               m.ID,
		TaskID:           m.TaskID,
		PayerID:          m.PayerID,
		PayeeID:          m.PayeeID,
		Amount:           m.Amount,
		Type:             domain.TransactionType(m.Type),
		Status:           domain.TransactionStatus(m.Status),
		PaymentReference: m.PaymentReference,
		CreatedAt:        m.CreatedAt,
	}
}
