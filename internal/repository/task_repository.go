package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-tracker/internal/model"
)

// TaskFilter narrows task listings. Nil fields do not filter.
type TaskFilter struct {
	State      *model.State
	Priority   *model.Priority
	CategoryID *uint
	Overdue    *bool
	DueBefore  *time.Time
	// Now is the reference instant for Overdue.
	Now time.Time
}

// TaskRepository handles CRUD for tasks and their owners.
type TaskRepository struct {
	db *DB
}

func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts task together with its owner rows in one transaction.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task, ownerIDs []uint) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return replaceOwners(tx, task.ID, ownerIDs)
	})
	if err != nil {
		return err
	}
	return r.reload(db, task)
}

// ListVisible returns tasks created by or owned by userID, newest first.
// The owner match is a subquery so a task appears once however it matches.
func (r *TaskRepository) ListVisible(ctx context.Context, userID uint, filter TaskFilter) ([]model.Task, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var tasks []model.Task
	err := applyFilter(visibleTo(db, userID), filter).
		Preload("Owners", orderOwners).
		Order("created_at DESC, id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListAll returns every task regardless of ownership, newest first.
func (r *TaskRepository) ListAll(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var tasks []model.Task
	err := applyFilter(db.Model(&model.Task{}), filter).
		Preload("Owners", orderOwners).
		Order("created_at DESC, id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// FindVisible loads a task only if userID may see it. Absent and hidden
// tasks both yield ErrNotFound.
func (r *TaskRepository) FindVisible(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var task model.Task
	err := visibleTo(db, userID).
		Where("tasks.id = ?", taskID).
		Preload("Owners", orderOwners).
		First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// Update writes every editable column of task and replaces its owners. The
// write only matches while userID may still see the task, otherwise
// ErrNotFound is returned and nothing changes.
func (r *TaskRepository) Update(ctx context.Context, userID uint, task *model.Task, ownerIDs []uint) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		res := visibleTo(tx, userID).
			Where("tasks.id = ?", task.ID).
			Select("title", "description", "priority", "state", "due_date", "is_overdue", "category_id", "updated_at").
			Updates(map[string]any{
				"title":       task.Title,
				"description": task.Description,
				"priority":    task.Priority,
				"state":       task.State,
				"due_date":    task.DueDate,
				"is_overdue":  task.IsOverdue,
				"category_id": task.CategoryID,
				"updated_at":  nowUTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return replaceOwners(tx, task.ID, ownerIDs)
	})
	if err != nil {
		return err
	}
	return r.reload(db, task)
}

// Delete removes a task and its owner rows.
func (r *TaskRepository) Delete(ctx context.Context, taskID uint) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.TaskOwner{}).Error; err != nil {
			return fmt.Errorf("delete task owners: %w", err)
		}
		res := tx.Delete(&model.Task{}, taskID)
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MarkOverdue flips the cached flag for open tasks whose due date passed
// since their last write. updated_at is left alone.
func (r *TaskRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	res := db.Model(&model.Task{}).
		Where("is_overdue = ? AND state <> ? AND due_date IS NOT NULL AND due_date < ?", false, model.StateDone, now).
		UpdateColumn("is_overdue", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark overdue: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UsersWithOverdueTasks returns the ids of creators and owners of overdue tasks.
func (r *TaskRepository) UsersWithOverdueTasks(ctx context.Context, now time.Time) ([]uint, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	overdue := applyFilter(db.Model(&model.Task{}), TaskFilter{Overdue: ptr(true), Now: now})

	var creators []uint
	if err := overdue.Session(&gorm.Session{}).Distinct().Pluck("created_by_id", &creators).Error; err != nil {
		return nil, fmt.Errorf("overdue creators: %w", err)
	}
	var owners []uint
	err := db.Model(&model.TaskOwner{}).
		Where("task_id IN (?)", overdue.Session(&gorm.Session{}).Select("id")).
		Distinct().
		Pluck("user_id", &owners).Error
	if err != nil {
		return nil, fmt.Errorf("overdue owners: %w", err)
	}

	seen := make(map[uint]struct{}, len(creators)+len(owners))
	var ids []uint
	for _, id := range append(creators, owners...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *TaskRepository) reload(db *gorm.DB, task *model.Task) error {
	task.Owners = nil
	if err := db.Preload("Owners", orderOwners).First(task, task.ID).Error; err != nil {
		return fmt.Errorf("reload task: %w", notFound(err))
	}
	return nil
}

func replaceOwners(tx *gorm.DB, taskID uint, ownerIDs []uint) error {
	if err := tx.Where("task_id = ?", taskID).Delete(&model.TaskOwner{}).Error; err != nil {
		return fmt.Errorf("clear task owners: %w", err)
	}
	if len(ownerIDs) == 0 {
		return nil
	}
	rows := make([]model.TaskOwner, 0, len(ownerIDs))
	for _, id := range ownerIDs {
		rows = append(rows, model.TaskOwner{TaskID: taskID, UserID: id})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("add task owners: %w", err)
	}
	return nil
}

func visibleTo(db *gorm.DB, userID uint) *gorm.DB {
	owned := db.Session(&gorm.Session{NewDB: true}).
		Model(&model.TaskOwner{}).
		Select("task_id").
		Where("user_id = ?", userID)
	return db.Model(&model.Task{}).
		Where("tasks.created_by_id = ? OR tasks.id IN (?)", userID, owned)
}

func applyFilter(db *gorm.DB, f TaskFilter) *gorm.DB {
	if f.State != nil {
		db = db.Where("tasks.state = ?", *f.State)
	}
	if f.Priority != nil {
		db = db.Where("tasks.priority = ?", *f.Priority)
	}
	if f.CategoryID != nil {
		db = db.Where("tasks.category_id = ?", *f.CategoryID)
	}
	if f.DueBefore != nil {
		db = db.Where("tasks.due_date IS NOT NULL AND tasks.due_date <= ?", *f.DueBefore)
	}
	if f.Overdue != nil {
		now := f.Now
		if now.IsZero() {
			now = nowUTC()
		}
		const overdue = "tasks.state <> ? AND (tasks.is_overdue = ? OR (tasks.due_date IS NOT NULL AND tasks.due_date < ?))"
		if *f.Overdue {
			db = db.Where(overdue, model.StateDone, true, now)
		} else {
			db = db.Not(overdue, model.StateDone, true, now)
		}
	}
	return db
}

func orderOwners(db *gorm.DB) *gorm.DB {
	return db.Order("users.id ASC")
}

func ptr[T any](v T) *T {
	return &v
}
