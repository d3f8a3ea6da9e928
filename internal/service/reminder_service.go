package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

// Digest is the overdue summary for one user.
type Digest struct {
	User       model.User
	Tasks      []model.Task
	Categories map[uint]string
	Now        time.Time
}

// CategoryName returns the trimmed name of the task's category, if any.
func (d Digest) CategoryName(task model.Task) string {
	if task.CategoryID == nil {
		return ""
	}
	return strings.TrimSpace(d.Categories[*task.CategoryID])
}

// DigestSender delivers a digest over one channel. Senders skip users
// they cannot reach and return nil.
type DigestSender interface {
	SendDigest(ctx context.Context, digest Digest) error
}

// ReminderService keeps the cached overdue flag fresh and builds digests.
type ReminderService struct {
	taskRepo     *repository.TaskRepository
	categoryRepo *repository.CategoryRepository
	userRepo     *repository.UserRepository
	senders      []DigestSender
}

func NewReminderService(taskRepo *repository.TaskRepository, categoryRepo *repository.CategoryRepository, userRepo *repository.UserRepository, senders ...DigestSender) *ReminderService {
	return &ReminderService{
		taskRepo:     taskRepo,
		categoryRepo: categoryRepo,
		userRepo:     userRepo,
		senders:      senders,
	}
}

// HasSenders reports whether any delivery channel is configured.
func (s *ReminderService) HasSenders() bool {
	return len(s.senders) > 0
}

// SyncOverdue sets is_overdue on tasks whose due date passed after their
// last write. It returns the number of tasks changed.
func (s *ReminderService) SyncOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.taskRepo.MarkOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("service.ReminderService.SyncOverdue: %w", err)
	}
	return n, nil
}

// OverdueDigest collects the overdue tasks visible to user, earliest due
// date first.
func (s *ReminderService) OverdueDigest(ctx context.Context, user model.User, now time.Time) (Digest, error) {
	const op = "service.ReminderService.OverdueDigest"

	overdue := true
	tasks, err := s.taskRepo.ListVisible(ctx, user.ID, TaskFilter{Overdue: &overdue, Now: now})
	if err != nil {
		return Digest{}, fmt.Errorf("%s: %w", op, err)
	}

	categories, err := s.categoryRepo.List(ctx)
	if err != nil {
		return Digest{}, fmt.Errorf("%s: %w", op, err)
	}
	names := make(map[uint]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		switch {
		case tasks[i].DueDate == nil && tasks[j].DueDate == nil:
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		case tasks[i].DueDate == nil:
			return false
		case tasks[j].DueDate == nil:
			return true
		default:
			return tasks[i].DueDate.Before(*tasks[j].DueDate)
		}
	})

	return Digest{User: user, Tasks: tasks, Categories: names, Now: now}, nil
}

// SendOverdueDigests hands a digest to every sender for each user that has
// overdue tasks. Delivery failures do not stop the run; they are joined
// into the returned error.
func (s *ReminderService) SendOverdueDigests(ctx context.Context, now time.Time) error {
	const op = "service.ReminderService.SendOverdueDigests"

	if len(s.senders) == 0 {
		return nil
	}

	ids, err := s.taskRepo.UsersWithOverdueTasks(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		user, err := s.userRepo.FindByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load user %d: %w", id, err))
			continue
		}
		digest, err := s.OverdueDigest(ctx, *user, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(digest.Tasks) == 0 {
			continue
		}
		for _, sender := range s.senders {
			if err := sender.SendDigest(ctx, digest); err != nil {
				errs = append(errs, fmt.Errorf("send digest to %s: %w", user.Username, err))
			}
		}
	}
	return errors.Join(errs...)
}

// FormatDigestHTML renders digest for chat clients that accept the
// Telegram HTML subset.
func FormatDigestHTML(digest Digest) string {
	var builder strings.Builder
	builder.WriteString("📋 <b>Overdue tasks</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", digest.Now.Format("2006-01-02")))

	if len(digest.Tasks) == 0 {
		builder.WriteString("— nothing overdue\n")
	}
	for _, task := range digest.Tasks {
		builder.WriteString(formatTask(task, digest.CategoryName(task), digest.Now))
	}

	return strings.TrimSpace(builder.String())
}

func formatTask(task model.Task, category string, now time.Time) string {
	var sb strings.Builder

	icon := "🟢"
	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		switch {
		case now.After(d):
			icon = "⚠️"
		case d.Sub(now) <= 48*time.Hour:
			icon = "⏳"
		}
	}
	if task.Priority == model.PriorityUrgent {
		icon = "🔥"
	}

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s %s", icon, title))

	if category != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(category)))
	}

	if task.DueDate != nil {
		d := task.DueDate.In(now.Location())
		if now.After(d) {
			daysLate := int(now.Sub(d).Hours() / 24)
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s · <b>%d d overdue</b>", d.Format("2006-01-02 15:04"), daysLate))
		} else {
			sb.WriteString(fmt.Sprintf("\n   ⏰ due %s", d.Format("2006-01-02 15:04")))
		}
	}

	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
