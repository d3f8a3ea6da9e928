package model

import "time"

// Priority orders tasks from LOW to URGENT.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// State is the workflow state of a task. Any state may follow any other.
type State string

const (
	StateOpen       State = "open"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
)

func (s State) Valid() bool {
	switch s {
	case StateOpen, StateInProgress, StateDone, StateCancelled:
		return true
	}
	return false
}

// Task represents a single tracked item.
type Task struct {
	ID          uint       `gorm:"primaryKey"`
	Title       string     `gorm:"size:200;not null"`
	Description string
	Priority    Priority   `gorm:"default:2;index:idx_task_state_priority,priority:2"`
	State       State      `gorm:"size:20;default:open;index:idx_task_state_priority,priority:1"`
	DueDate     *time.Time `gorm:"index"`
	IsOverdue   bool       `gorm:"default:false"` // cached, see DeriveOverdue
	CreatedByID uint       `gorm:"index;not null"`
	CreatedBy   User       `gorm:"foreignKey:CreatedByID"`
	Owners      []User     `gorm:"many2many:task_owners"`
	CategoryID  *uint      `gorm:"index"`
	Category    *Category  `gorm:"constraint:OnDelete:SET NULL"`
	CreatedAt   time.Time  `gorm:"index"`
	UpdatedAt   time.Time
}

// OwnerIDs returns the ids of the task owners in stored order.
func (t Task) OwnerIDs() []uint {
	ids := make([]uint, 0, len(t.Owners))
	for _, owner := range t.Owners {
		ids = append(ids, owner.ID)
	}
	return ids
}

// DeriveOverdue is the rule behind Task.IsOverdue: a task that is not done
// is overdue once its due date lies strictly before now.
func DeriveOverdue(state State, due *time.Time, now time.Time) bool {
	if state == StateDone || due == nil {
		return false
	}
	return due.Before(now)
}

// TaskOwner is the join row between a task and one of its owners.
type TaskOwner struct {
	TaskID uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey;index"`
}

func (TaskOwner) TableName() string {
	return "task_owners"
}
