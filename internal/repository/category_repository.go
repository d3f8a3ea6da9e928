package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-tracker/internal/model"
)

// CategoryRepository manages task categories.
type CategoryRepository struct {
	db *DB
}

func NewCategoryRepository(db *DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Create inserts category. A taken name yields ErrDuplicate.
func (r *CategoryRepository) Create(ctx context.Context, category *model.Category) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(category)
	if res.Error != nil {
		return fmt.Errorf("create category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("create category %q: %w", category.Name, ErrDuplicate)
	}
	return nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]model.Category, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var categories []model.Category
	if err := db.Order("name ASC").Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id uint) (*model.Category, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var category model.Category
	if err := db.First(&category, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &category, nil
}

// NameTaken reports whether another category (not exceptID) uses name.
func (r *CategoryRepository) NameTaken(ctx context.Context, name string, exceptID uint) (bool, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&model.Category{}).Where("name = ? AND id <> ?", name, exceptID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count categories: %w", err)
	}
	return count > 0, nil
}

// Update writes name and description. A name taken by another category
// yields ErrDuplicate.
func (r *CategoryRepository) Update(ctx context.Context, category *model.Category) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	res := db.Model(category).Select("name", "description").Updates(category)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("update category %q: %w", category.Name, ErrDuplicate)
		}
		return fmt.Errorf("update category: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the category and detaches it from its tasks in one
// transaction; tasks are never deleted with it.
func (r *CategoryRepository) Delete(ctx context.Context, id uint) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Task{}).Where("category_id = ?", id).
			UpdateColumn("category_id", nil).Error; err != nil {
			return fmt.Errorf("detach category: %w", err)
		}
		res := tx.Delete(&model.Category{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete category: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
