package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/model"
	"task-tracker/internal/service"
)

type userResponse struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

type authResponse struct {
	Access  string       `json:"access"`
	Refresh string       `json:"refresh"`
	User    userResponse `json:"user"`
}

type registerRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Password       string `json:"password"`
	Password2      string `json:"password2"`
	TelegramChatID *int64 `json:"telegram_chat_id"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type taskRequest struct {
	Title       model.Optional[string]         `json:"title"`
	Description model.Optional[string]         `json:"description"`
	Priority    model.Optional[model.Priority] `json:"priority"`
	State       model.Optional[model.State]    `json:"state"`
	DueDate     model.Optional[time.Time]      `json:"due_date"`
	Category    model.Optional[uint]           `json:"category"`
	Owners      model.Optional[[]uint]         `json:"owners"`
}

func (r taskRequest) fields() service.TaskFields {
	return service.TaskFields{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		State:       r.State,
		DueDate:     r.DueDate,
		Category:    r.Category,
		Owners:      r.Owners,
	}
}

type taskResponse struct {
	ID          uint           `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Priority    model.Priority `json:"priority"`
	State       model.State    `json:"state"`
	DueDate     *time.Time     `json:"due_date"`
	IsOverdue   bool           `json:"is_overdue"`
	Category    *uint          `json:"category"`
	Owners      []uint         `json:"owners"`
	CreatedBy   uint           `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    t.Priority,
		State:       t.State,
		DueDate:     t.DueDate,
		IsOverdue:   t.IsOverdue,
		Category:    t.CategoryID,
		Owners:      t.OwnerIDs(),
		CreatedBy:   t.CreatedByID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func toTaskResponses(tasks []model.Task) []taskResponse {
	out := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i]))
	}
	return out
}

type categoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type categoryResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toCategoryResponse(c *model.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// readJSON decodes the request body into dst. An empty body leaves dst
// untouched.
func readJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badJSON(c, err)
		return false
	}
	return true
}

// readID parses the :id path parameter. Ids that cannot exist are
// reported as not found.
func readID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		writeDetail(c, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return uint(id), true
}

// readTaskFilter parses the optional listing filters from the query string.
func readTaskFilter(qs url.Values) (service.TaskFilter, error) {
	var filter service.TaskFilter
	v := &service.ValidationError{Fields: make(map[string][]string)}

	if s := qs.Get("state"); s != "" {
		state := model.State(s)
		if state.Valid() {
			filter.State = &state
		} else {
			v.Add("state", "Select a valid choice.")
		}
	}
	if s := qs.Get("priority"); s != "" {
		n, err := strconv.Atoi(s)
		priority := model.Priority(n)
		if err == nil && priority.Valid() {
			filter.Priority = &priority
		} else {
			v.Add("priority", "Select a valid choice.")
		}
	}
	if s := qs.Get("category"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err == nil {
			id := uint(n)
			filter.CategoryID = &id
		} else {
			v.Add("category", "Enter a number.")
		}
	}
	if s := qs.Get("overdue"); s != "" {
		b, err := strconv.ParseBool(s)
		if err == nil {
			filter.Overdue = &b
		} else {
			v.Add("overdue", "Must be a valid boolean.")
		}
	}
	if s := qs.Get("due_before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err == nil {
			t = t.UTC()
			filter.DueBefore = &t
		} else {
			v.Add("due_before", "Enter a valid date/time.")
		}
	}

	return filter, v.Err()
}
