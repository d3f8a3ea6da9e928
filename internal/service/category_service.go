package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

const maxCategoryNameLength = 64

// CategoryInput carries category fields; nil means "leave as is".
type CategoryInput struct {
	Name        *string
	Description *string
}

// CategoryService lists categories for everyone and lets superusers
// maintain them.
type CategoryService struct {
	repo *repository.CategoryRepository
}

func NewCategoryService(repo *repository.CategoryRepository) *CategoryService {
	return &CategoryService{repo: repo}
}

func (s *CategoryService) List(ctx context.Context) ([]model.Category, error) {
	categories, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.CategoryService.List: %w", err)
	}
	return categories, nil
}

func (s *CategoryService) Get(ctx context.Context, id uint) (*model.Category, error) {
	category, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service.CategoryService.Get: %w", err)
	}
	return category, nil
}

func (s *CategoryService) Create(ctx context.Context, caller *model.User, in CategoryInput) (*model.Category, error) {
	const op = "service.CategoryService.Create"

	if caller == nil || !caller.IsSuperuser {
		return nil, ErrForbidden
	}

	category := &model.Category{}
	if err := s.apply(ctx, category, in, true); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, category); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fieldError("name", "category with this name already exists.")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return category, nil
}

func (s *CategoryService) Update(ctx context.Context, caller *model.User, id uint, in CategoryInput) (*model.Category, error) {
	const op = "service.CategoryService.Update"

	if caller == nil || !caller.IsSuperuser {
		return nil, ErrForbidden
	}

	category, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, category, in, false); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, category); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, fieldError("name", "category with this name already exists.")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return category, nil
}

// Delete removes the category; its tasks keep existing without one.
func (s *CategoryService) Delete(ctx context.Context, caller *model.User, id uint) error {
	if caller == nil || !caller.IsSuperuser {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("service.CategoryService.Delete: %w", err)
	}
	return nil
}

func (s *CategoryService) apply(ctx context.Context, category *model.Category, in CategoryInput, requireName bool) error {
	v := newValidationError()

	if in.Name != nil {
		category.Name = strings.TrimSpace(*in.Name)
	}
	if in.Name != nil || requireName {
		switch {
		case category.Name == "":
			v.Add("name", "This field is required.")
		case len([]rune(category.Name)) > maxCategoryNameLength:
			v.Add("name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxCategoryNameLength))
		default:
			taken, err := s.repo.NameTaken(ctx, category.Name, category.ID)
			if err != nil {
				return fmt.Errorf("service.CategoryService.apply: %w", err)
			}
			v.Check(!taken, "name", "category with this name already exists.")
		}
	}
	if in.Description != nil {
		category.Description = *in.Description
	}
	return v.Err()
}
