package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAll is the list-filter sentinel meaning "no category filter".
const CategoryAll = "All"

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskAssigned, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

type TaskUrgency string

const (
	UrgencyLow    TaskUrgency = "low"
	UrgencyMedium TaskUrgency = "medium"
	UrgencyHigh   TaskUrgency = "high"
)

func (u TaskUrgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

type ReviewType string

const (
	ReviewPosterToAssignee ReviewType = "poster_to_assignee"
	ReviewAssigneeToPoster ReviewType = "assignee_to_poster"
)

type TransactionType string

const (
	TransactionPayment TransactionType = "payment"
	TransactionPayout  TransactionType = "payout"
	TransactionRefund  TransactionType = "refund"
	TransactionTip     TransactionType = "tip"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

type NotificationType string

const (
	NotifyMessage         NotificationType = "message"
	NotifyTaskApplication NotificationType = "task_application"
	NotifyTaskAssigned    NotificationType = "task_assigned"
	NotifyTaskCompleted   NotificationType = "task_completed"
	NotifyReview          NotificationType = "review"
	NotifyPayment         NotificationType = "payment"
	NotifySystem          NotificationType = "system"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// User holds sign-in credentials. Its ID is shared with the Profile row.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Profile struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FullName       string          `json:"full_name"`
	AvatarURL      string          `json:"avatar_url"`
	Phone          string          `json:"phone"`
	University     string          `json:"university"`
	StudentID      string          `json:"student_id"`
	IsVerified     bool            `json:"is_verified"`
	Rating         float64         `json:"rating"`
	TasksCompleted int             `json:"tasks_completed"`
	TasksPosted    int             `json:"tasks_posted"`
	TotalEarnings  decimal.Decimal `json:"total_earnings"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ProfileSummary is the expanded form of a profile relation. Phone is only
// filled by detail reads.
type ProfileSummary struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	AvatarURL string  `json:"avatar_url"`
	Rating    float64 `json:"rating"`
	Phone     string  `json:"phone,omitempty"`
}

// ProfilePatch carries the user-editable profile fields. Nil means unchanged.
type ProfilePatch struct {
	FullName   *string `json:"full_name"`
	AvatarURL  *string `json:"avatar_url"`
	Phone      *string `json:"phone"`
	University *string `json:"university"`
	StudentID  *string `json:"student_id"`
}

// ProfileStats overwrites aggregate counters. Nil means unchanged.
type ProfileStats struct {
	Rating         *float64         `json:"rating"`
	TasksCompleted *int             `json:"tasks_completed"`
	TasksPosted    *int             `json:"tasks_posted"`
	TotalEarnings  *decimal.Decimal `json:"total_earnings"`
}

// ProfileStatsDelta increments aggregate counters in place.
type ProfileStatsDelta struct {
	TasksCompleted int
	TasksPosted    int
	TotalEarnings  decimal.Decimal
}

type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	SortOrder int    `json:"sort_order"`
}

type Task struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	EstimatedTime string          `json:"estimated_time"`
	Location      string          `json:"location"`
	Urgency       TaskUrgency     `json:"urgency"`
	Status        TaskStatus      `json:"status"`
	PosterID      string          `json:"poster_id"`
	AssigneeID    *string         `json:"assignee_id"`
	ImageURL      string          `json:"image_url"`
	Deadline      *time.Time      `json:"deadline"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Poster        *ProfileSummary `json:"poster,omitempty"`
	Assignee      *ProfileSummary `json:"assignee,omitempty"`
}

// TaskFilter selects tasks for list views. Empty fields add no predicate.
type TaskFilter struct {
	Category string
	Status   TaskStatus
	Search   string
}

type TaskInput struct {
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	EstimatedTime string          `json:"estimated_time"`
	Location      string          `json:"location"`
	Urgency       TaskUrgency     `json:"urgency"`
	PosterID      string          `json:"poster_id"`
	ImageURL      string          `json:"image_url"`
	Deadline      *time.Time      `json:"deadline"`
}

// TaskPatch is a partial task update. There is deliberately no PosterID.
type TaskPatch struct {
	Title         *string          `json:"title"`
	Description   *string          `json:"description"`
	Category      *string          `json:"category"`
	Price         *decimal.Decimal `json:"price"`
	EstimatedTime *string          `json:"estimated_time"`
	Location      *string          `json:"location"`
	Urgency       *TaskUrgency     `json:"urgency"`
	Status        *TaskStatus      `json:"status"`
	AssigneeID    *string          `json:"assignee_id"`
	ImageURL      *string          `json:"image_url"`
	Deadline      *time.Time       `json:"deadline"`
}

type TaskApplication struct {
	ID          string            `json:"id"`
	TaskID      string            `json:"task_id"`
	ApplicantID string            `json:"applicant_id"`
	Status      ApplicationStatus `json:"status"`
	Message     string            `json:"message"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Applicant   *ProfileSummary   `json:"applicant,omitempty"`
}

type Message struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Content    string          `json:"content"`
	ReadAt     *time.Time      `json:"read_at"`
	CreatedAt  time.Time       `json:"created_at"`
	Sender     *ProfileSummary `json:"sender,omitempty"`
	Receiver   *ProfileSummary `json:"receiver,omitempty"`
	Task       *TaskSummary    `json:"task,omitempty"`
}

// TaskSummary is the expanded form of a task relation on messages.
type TaskSummary struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

type MessageInput struct {
	TaskID     string `json:"task_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Conversation is derived from messages; it is never stored.
type Conversation struct {
	TaskID        string          `json:"task_id"`
	Task          *TaskSummary    `json:"task,omitempty"`
	OtherUser     *ProfileSummary `json:"other_user"`
	LatestMessage Message         `json:"latest_message"`
	UnreadCount   int             `json:"unread_count"`
}

type Review struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	ReviewerID string          `json:"reviewer_id"`
	RevieweeID string          `json:"reviewee_id"`
	Rating     int             `json:"rating"`
	Comment    string          `json:"comment"`
	ReviewType ReviewType      `json:"review_type"`
	CreatedAt  time.Time       `json:"created_at"`
	Reviewer   *ProfileSummary `json:"reviewer,omitempty"`
}

type Transaction struct {
	ID               string            `json:"id"`
	TaskID           string            `json:"task_id"`
	PayerID          string            `json:"payer_id"`
	PayeeID          string            `json:"payee_id"`
	Amount           decimal.Decimal   `json:"amount"`
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	PaymentReference string            `json:"payment_reference"`
	CreatedAt        time.Time         `json:"created_at"`
}

// WalletSummary totals completed transactions for one user.
type WalletSummary struct {
	Earned decimal.Decimal `json:"earned"`
	Spent  decimal.Decimal `json:"spent"`
}

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ActionURL string           `json:"action_url"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	ReadAt    *time.Time       `json:"read_at"`
	CreatedAt time.Time        `json:"created_at"`
}

type NotificationInput struct {
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ActionURL string           `json:"action_url"`
	Metadata  map[string]any   `json:"metadata"`
}

type ApplicationInput struct {
	TaskID      string `json:"task_id"`
	ApplicantID string `json:"applicant_id"`
	Message     string `json:"message"`
}

// ReviewInput is what a task party submits; reviewee and review type are
// derived from the task.
type ReviewInput struct {
	TaskID     string `json:"task_id"`
	ReviewerID string `json:"reviewer_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotifyMessage, NotifyTaskApplication, NotifyTaskAssigned, NotifyTaskCompleted, NotifyReview, NotifyPayment, NotifySystem:
		return true
	}
	return false
}
