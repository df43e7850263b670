package store

import (
	"context"
	"errors"
	"time"

	"hustl/pkg/domain"
)

// ErrNotFound is returned when a single-row read or write matches no row.
var ErrNotFound = errors.New("record not found")

// Store defines persistence operations for the marketplace tables.
type Store interface {
	// users & profiles
	CreateUser(ctx context.Context, u domain.User, p domain.Profile) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.Profile, error)
	UpdateProfileStats(ctx context.Context, id string, stats domain.ProfileStats) (domain.Profile, error)
	IncrementProfileStats(ctx context.Context, id string, delta domain.ProfileStatsDelta) error

	// categories
	ListCategories(ctx context.Context) ([]domain.Category, error)

	// tasks
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasksPostedBy(ctx context.Context, userID string) ([]domain.Task, error)
	ListTasksAssignedTo(ctx context.Context, userID string) ([]domain.Task, error)

	// applications
	CreateApplication(ctx context.Context, a domain.TaskApplication) (domain.TaskApplication, error)
	GetApplication(ctx context.Context, id string) (domain.TaskApplication, error)
	ListApplicationsForTask(ctx context.Context, taskID string) ([]domain.TaskApplication, error)
	ListApplicationsByApplicant(ctx context.Context, applicantID string) ([]domain.TaskApplication, error)
	SetApplicationStatus(ctx context.Context, id string, status domain.ApplicationStatus) (domain.TaskApplication, error)

	// messages
	ListMessagesForTask(ctx context.Context, taskID string) ([]domain.Message, error)
	CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	MarkMessageRead(ctx context.Context, id string, at time.Time) error
	ListMessagesForUser(ctx context.Context, userID string) ([]domain.Message, error)

	// reviews
	CreateReview(ctx context.Context, r domain.Review) (domain.Review, error)
	ListReviewsFor(ctx context.Context, revieweeID string) ([]domain.Review, error)
	AverageRating(ctx context.Context, revieweeID string) (float64, error)

	// transactions
	CreateTransaction(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	ListTransactionsFor(ctx context.Context, userID string) ([]domain.Transaction, error)

	// notifications
	ListNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) error
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
}

// SessionStore issues and resolves access tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (Session, error)
	GetSession(ctx context.Context, token string) (Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Session is a verified access token and its subject.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	UserID      string    `json:"user_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
