package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

const maxTitleLength = 200

// TaskFilter narrows listings; see repository.TaskFilter.
type TaskFilter = repository.TaskFilter

// TaskFields carries the writable task fields of a create or update
// request. Unset fields are left alone by partial updates and take their
// defaults otherwise.
type TaskFields struct {
	Title       model.Optional[string]
	Description model.Optional[string]
	Priority    model.Optional[model.Priority]
	State       model.Optional[model.State]
	DueDate     model.Optional[time.Time]
	Category    model.Optional[uint]
	Owners      model.Optional[[]uint]
}

// TaskService enforces who may see and change which task.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	userRepo     *repository.UserRepository
	now          func() time.Time
}

func NewTaskService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, userRepo *repository.UserRepository) *TaskService {
	return &TaskService{
		taskRepo:     taskRepo,
		categoryRepo: categoryRepo,
		userRepo:     userRepo,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *TaskService) WithClock(now func() time.Time) *TaskService {
	s.now = now
	return s
}

// ListVisible returns the tasks user created or owns, newest first.
func (s *TaskService) ListVisible(ctx context.Context, user *model.User, filter TaskFilter) ([]model.Task, error) {
	if filter.Now.IsZero() {
		filter.Now = s.now()
	}
	tasks, err := s.taskRepo.ListVisible(ctx, user.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("service.TaskService.ListVisible: %w", err)
	}
	return tasks, nil
}

// ListAll returns every task. Only superusers may call it.
func (s *TaskService) ListAll(ctx context.Context, caller *model.User) ([]model.Task, error) {
	if caller == nil || !caller.IsSuperuser {
		return nil, ErrForbidden
	}
	tasks, err := s.taskRepo.ListAll(ctx, TaskFilter{Now: s.now()})
	if err != nil {
		return nil, fmt.Errorf("service.TaskService.ListAll: %w", err)
	}
	return tasks, nil
}

// Create stores a new task created by user. A task without owners is
// owned by its creator.
func (s *TaskService) Create(ctx context.Context, user *model.User, fields TaskFields) (*model.Task, error) {
	const op = "service.TaskService.Create"

	now := s.now()
	task := &model.Task{
		CreatedByID: user.ID,
		CreatedAt:   now,
	}
	resetTask(task)

	ownerIDs, err := s.apply(ctx, task, fields, true)
	if err != nil {
		return nil, err
	}
	if len(ownerIDs) == 0 {
		ownerIDs = []uint{user.ID}
	}
	task.IsOverdue = model.DeriveOverdue(task.State, task.DueDate, now)

	if err := s.taskRepo.Create(ctx, task, ownerIDs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return task, nil
}

// Get returns the task if user may see it. Hidden and missing tasks are
// indistinguishable.
func (s *TaskService) Get(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	task, err := s.taskRepo.FindVisible(ctx, user.ID, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service.TaskService.Get: %w", err)
	}
	return task, nil
}

// Update changes a visible task. With partial only the set fields change;
// otherwise every unset field goes back to its default and title becomes
// required. If the owners end up empty the caller becomes the owner.
func (s *TaskService) Update(ctx context.Context, user *model.User, taskID uint, fields TaskFields, partial bool) (*model.Task, error) {
	const op = "service.TaskService.Update"

	task, err := s.Get(ctx, user, taskID)
	if err != nil {
		return nil, err
	}

	ownerIDs := task.OwnerIDs()
	if !partial {
		resetTask(task)
		ownerIDs = nil
	}

	set, err := s.apply(ctx, task, fields, !partial)
	if err != nil {
		return nil, err
	}
	if fields.Owners.Set || !partial {
		ownerIDs = set
	}
	if len(ownerIDs) == 0 {
		ownerIDs = []uint{user.ID}
	}
	task.IsOverdue = model.DeriveOverdue(task.State, task.DueDate, s.now())

	if err := s.taskRepo.Update(ctx, user.ID, task, ownerIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return task, nil
}

// Delete removes a visible task.
func (s *TaskService) Delete(ctx context.Context, user *model.User, taskID uint) error {
	task, err := s.Get(ctx, user, taskID)
	if err != nil {
		return err
	}
	if err := s.taskRepo.Delete(ctx, task.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("service.TaskService.Delete: %w", err)
	}
	return nil
}

// resetTask puts every writable field back to its default.
func resetTask(task *model.Task) {
	task.Title = ""
	task.Description = ""
	task.Priority = model.PriorityMedium
	task.State = model.StateOpen
	task.DueDate = nil
	task.CategoryID = nil
	task.Category = nil
}

// apply validates fields and copies the set ones onto task. It returns the
// requested owner ids (deduplicated, possibly empty).
func (s *TaskService) apply(ctx context.Context, task *model.Task, fields TaskFields, requireTitle bool) ([]uint, error) {
	const op = "service.TaskService.apply"
	v := newValidationError()

	if fields.Title.Set {
		task.Title = fields.Title.Value
		v.Check(!fields.Title.Null, "title", "This field may not be null.")
	}
	if requireTitle || fields.Title.Set {
		if _, ok := v.Fields["title"]; !ok {
			v.Check(task.Title != "", "title", "This field is required.")
			v.Check(len([]rune(task.Title)) <= maxTitleLength, "title", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength))
		}
	}

	if fields.Description.Set {
		v.Check(!fields.Description.Null, "description", "This field may not be null.")
		task.Description = fields.Description.Value
	}

	if fields.Priority.Set {
		switch {
		case fields.Priority.Null:
			v.Add("priority", "This field may not be null.")
		case !fields.Priority.Value.Valid():
			v.Add("priority", fmt.Sprintf("%q is not a valid choice.", fmt.Sprint(int(fields.Priority.Value))))
		default:
			task.Priority = fields.Priority.Value
		}
	}

	if fields.State.Set {
		switch {
		case fields.State.Null:
			v.Add("state", "This field may not be null.")
		case !fields.State.Value.Valid():
			v.Add("state", fmt.Sprintf("%q is not a valid choice.", string(fields.State.Value)))
		default:
			task.State = fields.State.Value
		}
	}

	if fields.DueDate.Set {
		if fields.DueDate.Null {
			task.DueDate = nil
		} else {
			due := fields.DueDate.Value.UTC()
			task.DueDate = &due
		}
	}
	if task.DueDate != nil && task.DueDate.Before(task.CreatedAt) {
		v.Add("due_date", "Due date cannot be before creation time.")
	}

	if fields.Category.Set {
		if fields.Category.Null {
			task.CategoryID = nil
		} else {
			id := fields.Category.Value
			if _, err := s.categoryRepo.GetByID(ctx, id); err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				v.Add("category", fmt.Sprintf("Invalid pk %q - object does not exist.", fmt.Sprint(id)))
			}
			task.CategoryID = &id
		}
		task.Category = nil
	}

	var ownerIDs []uint
	if fields.Owners.Set && !fields.Owners.Null {
		ownerIDs = uniqueIDs(fields.Owners.Value)
		count, err := s.userRepo.CountByIDs(ctx, ownerIDs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		v.Check(count == int64(len(ownerIDs)), "owners", "One or more users do not exist.")
	}

	if err := v.Err(); err != nil {
		return nil, err
	}
	return ownerIDs, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
