package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-tracker/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts user and fills its id. A taken username yields ErrDuplicate.
// When issue is non-nil it is called with the stored user and the token it
// returns is recorded in the same transaction, so a failure in either step
// leaves nothing behind.
func (r *UserRepository) Create(ctx context.Context, user *model.User, issue func(*model.User) (*model.OutstandingToken, error)) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoNothing: true,
		}).Create(user)
		if res.Error != nil {
			return fmt.Errorf("create user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("create user %q: %w", user.Username, ErrDuplicate)
		}
		if issue == nil {
			return nil
		}

		token, err := issue(user)
		if err != nil {
			return err
		}
		if err := tx.Create(token).Error; err != nil {
			return fmt.Errorf("create outstanding token: %w", err)
		}
		return nil
	})
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var user model.User
	if err := db.First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var user model.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *UserRepository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&model.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// CountByIDs reports how many of ids belong to existing users.
func (r *UserRepository) CountByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	db, cancel := r.db.session(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&model.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// SetSuperuser grants or removes the superuser flag.
func (r *UserRepository) SetSuperuser(ctx context.Context, id uint, superuser bool) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	res := db.Model(&model.User{}).Where("id = ?", id).Update("is_superuser", superuser)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
