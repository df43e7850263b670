package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the public schema
// the mobile client was written against.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type ProfileModel struct {
	ID             string `gorm:"primaryKey"`
	Email          string `gorm:"uniqueIndex;not null"`
	FullName       string `gorm:"not null"`
	AvatarURL      string
	Phone          string
	University     string
	StudentID      string
	IsVerified     bool            `gorm:"not null;default:false"`
	Rating         float64         `gorm:"not null;default:0"`
	TasksCompleted int             `gorm:"not null;default:0"`
	TasksPosted    int             `gorm:"not null;default:0"`
	TotalEarnings  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time
}

func (ProfileModel) TableName() string { return "profiles" }

type CategoryModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Icon      string
	SortOrder int `gorm:"not null;default:0"`
}

func (CategoryModel) TableName() string { return "categories" }

type TaskModel struct {
	ID            string          `gorm:"primaryKey"`
	Title         string          `gorm:"not null"`
	Description   string          `gorm:"type:text"`
	Category      string          `gorm:"not null;index"`
	Price         decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	EstimatedTime string
	Location      string
	Urgency       string  `gorm:"not null;default:medium"`
	Status        string  `gorm:"not null;default:open;index"`
	PosterID      string  `gorm:"not null;index"`
	AssigneeID    *string `gorm:"index"`
	ImageURL      string
	Deadline      *time.Time
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time

	Poster   *ProfileModel `gorm:"foreignKey:PosterID"`
	Assignee *ProfileModel `gorm:"foreignKey:AssigneeID"`
}

func (TaskModel) TableName() string { return "tasks" }

type TaskApplicationModel struct {
	ID          string    `gorm:"primaryKey"`
	TaskID      string    `gorm:"not null;index"`
	ApplicantID string    `gorm:"not null;index"`
	Status      string    `gorm:"not null;default:pending"`
	Message     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time

	Task      *TaskModel    `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	Applicant *ProfileModel `gorm:"foreignKey:ApplicantID"`
}

func (TaskApplicationModel) TableName() string { return "task_applications" }

type MessageModel struct {
	ID         string `gorm:"primaryKey"`
	TaskID     string `gorm:"not null;index"`
	SenderID   string `gorm:"not null;index"`
	ReceiverID string `gorm:"not null;index"`
	Content    string `gorm:"type:text;not null"`
	ReadAt     *time.Time
	CreatedAt  time.Time `gorm:"not null;index"`

	Task     *TaskModel    `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	Sender   *ProfileModel `gorm:"foreignKey:SenderID"`
	Receiver *ProfileModel `gorm:"foreignKey:ReceiverID"`
}

func (MessageModel) TableName() string { return "messages" }

type ReviewModel struct {
	ID         string    `gorm:"primaryKey"`
	TaskID     string    `gorm:"not null;index"`
	ReviewerID string    `gorm:"not null;index"`
	RevieweeID string    `gorm:"not null;index"`
	Rating     int       `gorm:"not null"`
	Comment    string    `gorm:"type:text"`
	ReviewType string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`

	Reviewer *ProfileModel `gorm:"foreignKey:ReviewerID"`
}

func (ReviewModel) TableName() string { return "reviews" }

type TransactionModel struct {
	ID               string          `gorm:"primaryKey"`
	TaskID           string          `gorm:"not null;index"`
	PayerID          string          `gorm:"not null;index"`
	PayeeID          string          `gorm:"not null;index"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Type             string          `gorm:"not null"`
	Status           string          `gorm:"not null"`
	PaymentReference string
	CreatedAt        time.Time `gorm:"not null;index"`
}

func (TransactionModel) TableName() string { return "transactions" }

type NotificationModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	Type      string `gorm:"not null"`
	Title     string `gorm:"not null"`
	Message   string `gorm:"type:text"`
	ActionURL string
	Metadata  datatypes.JSON
	ReadAt    *time.Time
	CreatedAt time.Time `gorm:"not null;index"`
}

func (NotificationModel) TableName() string { return "notifications" }
