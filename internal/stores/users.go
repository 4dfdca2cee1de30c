package stores

import (
	"context"
	"errors"
	"strings"
	"time"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"gorm.io/gorm"
)

// userRow is the users table. The TOTP secret lives in the vault keyed by
// ID, so there is no secret-reference column.
type userRow struct {
	ID           string   `gorm:"primaryKey;size:26"`
	Email        string   `gorm:"size:50;not null;uniqueIndex:idx_users_email"`
	PasswordHash string   `gorm:"not null"`
	Permissions  []string `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) record() zerotrust.UserRecord {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return zerotrust.UserRecord{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Permissions:  perms,
		CreatedAt:    r.CreatedAt,
	}
}

// UserStore is the GORM-backed credential store. Email uniqueness is
// enforced by a unique index; the pre-insert existence check in the engine
// is only a fast path.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps db. Call [Migrate] once before first use.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Migrate creates or updates the users table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&userRow{})
}

func (s *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("email = ?", email).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (zerotrust.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&row).Error
	if err != nil {
		return zerotrust.UserRecord{}, notFound(err)
	}
	return row.record(), nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (zerotrust.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return zerotrust.UserRecord{}, notFound(err)
	}
	return row.record(), nil
}

// Insert assigns a ULID and writes the row. A unique-index violation on
// email is reported as [zerotrust.ErrDuplicateEmail].
func (s *UserStore) Insert(ctx context.Context, user zerotrust.NewUser) (zerotrust.UserRecord, error) {
	row := userRow{
		ID:           NewID(),
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Permissions:  user.Permissions,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return zerotrust.UserRecord{}, zerotrust.ErrDuplicateEmail
		}
		return zerotrust.UserRecord{}, err
	}
	return row.record(), nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id = ?", id).
		Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return zerotrust.ErrUserNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zerotrust.ErrUserNotFound
	}
	return err
}

// isDuplicate recognizes unique violations whether or not the dialector
// translated them.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
