package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"hustl/pkg/domain"
)

const migrateLockID int64 = 48785821

const sqliteDSNPrefix = "sqlite:"

// DefaultCategories seeds the categories table on migration.
var DefaultCategories = []domain.Category{
	{ID: "food", Name: "Food", Icon: "utensils", SortOrder: 1},
	{ID: "coffee", Name: "Coffee", Icon: "coffee", SortOrder: 2},
	{ID: "grocery", Name: "Grocery", Icon: "shopping-cart", SortOrder: 3},
	{ID: "delivery", Name: "Delivery", Icon: "package", SortOrder: 4},
	{ID: "study", Name: "Study", Icon: "book-open", SortOrder: 5},
	{ID: "moving", Name: "Moving", Icon: "truck", SortOrder: 6},
	{ID: "other", Name: "Other", Icon: "more-horizontal", SortOrder: 7},
}

var (
	summaryColumns = []string{"id", "full_name", "avatar_url", "rating"}
	detailColumns  = []string{"id", "full_name", "avatar_url", "rating", "phone"}
)

// GormStore implements Store using GORM over Postgres, or SQLite when the DSN
// starts with "sqlite:".
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, sqliteDSNPrefix); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// an in-memory database lives and dies with its connection
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for tests and tooling.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(
		&UserModel{},
		&ProfileModel{},
		&CategoryModel{},
		&TaskModel{},
		&TaskApplicationModel{},
		&MessageModel{},
		&ReviewModel{},
		&TransactionModel{},
		&NotificationModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	seeds := make([]CategoryModel, 0, len(DefaultCategories))
	for _, c := range DefaultCategories {
		seeds = append(seeds, CategoryModel{ID: c.ID, Name: c.Name, Icon: c.Icon, SortOrder: c.SortOrder})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seeds).Error; err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func selectColumns(cols []string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Select(cols)
	}
}

// CreateUser stores credentials and the matching profile in one transaction.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User, p domain.Profile) error {
	user := userToModel(u)
	profile := profileToModel(p)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&profile).Error
	})
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up credentials by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID looks up credentials by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetProfile returns a full profile row.
func (s *GormStore) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return domain.Profile{}, notFound(err)
	}
	return profileFromModel(model), nil
}

// UpdateProfile applies the non-nil patch fields and returns the new row.
func (s *GormStore) UpdateProfile(ctx context.Context, id string, patch domain.ProfilePatch) (domain.Profile, error) {
	updates := map[string]any{}
	setIf(updates, "full_name", patch.FullName)
	setIf(updates, "avatar_url", patch.AvatarURL)
	setIf(updates, "phone", patch.Phone)
	setIf(updates, "university", patch.University)
	setIf(updates, "student_id", patch.StudentID)
	return s.updateProfile(ctx, id, updates)
}

// UpdateProfileStats overwrites aggregate counters without validation.
func (s *GormStore) UpdateProfileStats(ctx context.Context, id string, stats domain.ProfileStats) (domain.Profile, error) {
	updates := map[string]any{}
	setIf(updates, "rating", stats.Rating)
	setIf(updates, "tasks_completed", stats.TasksCompleted)
	setIf(updates, "tasks_posted", stats.TasksPosted)
	setIf(updates, "total_earnings", stats.TotalEarnings)
	return s.updateProfile(ctx, id, updates)
}

func (s *GormStore) updateProfile(ctx context.Context, id string, updates map[string]any) (domain.Profile, error) {
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		res := s.db.WithContext(ctx).Model(&ProfileModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return domain.Profile{}, res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Profile{}, ErrNotFound
		}
	}
	return s.GetProfile(ctx, id)
}

// IncrementProfileStats adds delta to the counters in a single UPDATE.
func (s *GormStore) IncrementProfileStats(ctx context.Context, id string, delta domain.ProfileStatsDelta) error {
	res := s.db.WithContext(ctx).Model(&ProfileModel{}).Where("id = ?", id).Updates(map[string]any{
		"tasks_completed": gorm.Expr("tasks_completed + ?", delta.TasksCompleted),
		"tasks_posted":    gorm.Expr("tasks_posted + ?", delta.TasksPosted),
		"total_earnings":  gorm.Expr("total_earnings + ?", delta.TotalEarnings),
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCategories returns categories in display order.
func (s *GormStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var models []CategoryModel
	if err := s.db.WithContext(ctx).Order("sort_order ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Category, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Category{ID: m.ID, Name: m.Name, Icon: m.Icon, SortOrder: m.SortOrder})
	}
	return res, nil
}

func setIf[T any](updates map[string]any, column string, v *T) {
	if v != nil {
		updates[column] = *v
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:             p.ID,
		Email:          p.Email,
		FullName:       p.FullName,
		AvatarURL:      p.AvatarURL,
		Phone:          p.Phone,
		University:     p.University,
		StudentID:      p.StudentID,
		IsVerified:     p.IsVerified,
		Rating:         p.Rating,
		TasksCompleted: p.TasksCompleted,
		TasksPosted:    p.TasksPosted,
		TotalEarnings:  p.TotalEarnings,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:             m.ID,
		Email:          m.Email,
		FullName:       m.FullName,
		AvatarURL:      m.AvatarURL,
		Phone:          m.Phone,
		University:     m.University,
		StudentID:      m.StudentID,
		IsVerified:     m.IsVerified,
		Rating:         m.Rating,
		TasksCompleted: m.TasksCompleted,
		TasksPosted:    m.TasksPosted,
		TotalEarnings:  m.TotalEarnings,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func summaryFromModel(m *ProfileModel) *domain.ProfileSummary {
	if m == nil {
		return nil
	}
	return &domain.ProfileSummary{
		ID:        m.ID,
		FullName:  m.FullName,
		AvatarURL: m.AvatarURL,
		Rating:    m.Rating,
		Phone:     m.Phone,
	}
}
