package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"task-tracker/internal/config"
	"task-tracker/internal/logger"
	"task-tracker/internal/repository"
	"task-tracker/internal/service"
)

const testPassword = "Correct-Horse-42"

type testServer struct {
	router   *gin.Engine
	identity *service.IdentityService
}

func newTestServer(t *testing.T, security config.Security) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	db, err := repository.NewDB(config.Database{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "handler.db"),
	}, log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)

	tokens := service.NewTokenService(repository.NewTokenRepository(db), config.Tokens{
		Secret:     "handler-secret",
		Issuer:     "task-tracker",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	})
	reg := prometheus.NewRegistry()
	if err := tokens.RegisterMetrics(reg); err != nil {
		t.Fatalf("register token metrics: %v", err)
	}
	identity, err := service.NewIdentityService(users, tokens, service.DefaultPasswordPolicy(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("identity service: %v", err)
	}
	tasks := service.NewTaskService(repository.NewTaskRepository(db), categoryRepo, users)
	categories := service.NewCategoryService(categoryRepo)

	h := NewHandler(identity, tokens, tasks, categories, db, log, Options{
		Env:      "local",
		Version:  "test",
		Security: security,
		Registry: reg,
	})
	router, err := h.InitRoutes()
	if err != nil {
		t.Fatalf("init routes: %v", err)
	}
	return &testServer{router: router, identity: identity}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, username string) authResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/register", "", map[string]any{
		"username":  username,
		"email":     username + "@example.com",
		"password":  testPassword,
		"password2": testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, rec.Code, rec.Body)
	}
	var resp authResponse
	decode(t, rec, &resp)
	return resp
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &body)
	return body.Detail
}

func TestRegisterAndMe(t *testing.T) {
	s := newTestServer(t, config.Security{})
	auth := s.register(t, "alice")

	if auth.Access == "" || auth.Refresh == "" || auth.User.Username != "alice" {
		t.Fatalf("unexpected register response %+v", auth)
	}

	rec := s.do(t, http.MethodGet, "/me", auth.Access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("user payload leaks password: %s", rec.Body)
	}
	var me userResponse
	decode(t, rec, &me)
	if me.ID != auth.User.ID || me.Email != "alice@example.com" {
		t.Fatalf("unexpected me %+v", me)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, config.Security{})

	rec := s.do(t, http.MethodPost, "/register", "", map[string]any{
		"username":  "alice",
		"password":  testPassword,
		"password2": testPassword + "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var fields map[string][]string
	decode(t, rec, &fields)
	if len(fields["password2"]) == 0 {
		t.Fatalf("expected password2 error, got %v", fields)
	}

	s.register(t, "bob")
	rec = s.do(t, http.MethodPost, "/register", "", map[string]any{
		"username":  "bob",
		"password":  testPassword,
		"password2": testPassword,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", rec.Code)
	}
	fields = nil
	decode(t, rec, &fields)
	if len(fields["username"]) == 0 {
		t.Fatalf("expected username error, got %v", fields)
	}

	rec = s.do(t, http.MethodPost, "/register", "", `{"username": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, config.Security{})
	s.register(t, "alice")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		detail string
	}{
		{name: "missing password", body: map[string]string{"username": "alice"}, status: http.StatusBadRequest, detail: "Username and password required."},
		{name: "wrong password", body: map[string]string{"username": "alice", "password": "nope"}, status: http.StatusUnauthorized, detail: "Invalid credentials."},
		{name: "unknown user", body: map[string]string{"username": "mallory", "password": testPassword}, status: http.StatusUnauthorized, detail: "Invalid credentials."},
		{name: "ok", body: map[string]string{"username": "alice", "password": testPassword}, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/login", "", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d (%s)", rec.Code, tt.status, rec.Body)
			}
			if tt.detail != "" && detail(t, rec) != tt.detail {
				t.Fatalf("detail %q, want %q", detail(t, rec), tt.detail)
			}
		})
	}
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t, config.Security{})
	auth := s.register(t, "alice")

	rec := s.do(t, http.MethodPost, "/refresh", "", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("refresh without token: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh": auth.Refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body)
	}
	var pair service.TokenPair
	decode(t, rec, &pair)
	if pair.Access == "" || pair.Refresh == "" || pair.Refresh == auth.Refresh {
		t.Fatalf("unexpected pair %+v", pair)
	}

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh": auth.Refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/logout", pair.Access, map[string]string{})
	if rec.Code != http.StatusBadRequest || detail(t, rec) != "Refresh token required." {
		t.Fatalf("logout without token: status %d body %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/logout", pair.Access, map[string]string{"refresh": pair.Refresh})
	if rec.Code != http.StatusResetContent {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/logout", pair.Access, map[string]string{"refresh": pair.Refresh})
	if rec.Code != http.StatusBadRequest || detail(t, rec) != "Invalid token." {
		t.Fatalf("second logout: status %d body %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh": pair.Refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status %d", rec.Code)
	}
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	rec := s.do(t, http.MethodPost, "/logout", alice.Access, map[string]string{"refresh": bob.Refresh})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh": bob.Refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("bob's token should still refresh, got %d", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, config.Security{})
	auth := s.register(t, "alice")

	rec := s.do(t, http.MethodGet, "/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized || detail(t, rec) != "Authentication credentials were not provided." {
		t.Fatalf("no credentials: status %d body %s", rec.Code, rec.Body)
	}

	rec = s.do(t, http.MethodGet, "/tasks", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/tasks", auth.Refresh, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token used as access: status %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	due := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	rec := s.do(t, http.MethodPost, "/tasks", alice.Access, map[string]any{
		"title":    "Write report",
		"priority": 3,
		"due_date": due.Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	var task taskResponse
	decode(t, rec, &task)
	if task.CreatedBy != alice.User.ID || len(task.Owners) != 1 || task.Owners[0] != alice.User.ID {
		t.Fatalf("expected alice as creator and sole owner, got %+v", task)
	}
	if task.State != "open" || task.Priority != 3 || task.IsOverdue {
		t.Fatalf("unexpected task %+v", task)
	}

	path := "/tasks/" + itoa(task.ID)

	rec = s.do(t, http.MethodGet, path, bob.Access, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("bob get: status %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/tasks", bob.Access, nil)
	var listed []taskResponse
	decode(t, rec, &listed)
	if len(listed) != 0 {
		t.Fatalf("bob sees %d tasks", len(listed))
	}

	rec = s.do(t, http.MethodPatch, path, alice.Access, map[string]any{"state": "in_progress"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: status %d body %s", rec.Code, rec.Body)
	}
	decode(t, rec, &task)
	if task.State != "in_progress" || task.Title != "Write report" || task.DueDate == nil {
		t.Fatalf("patch changed too much: %+v", task)
	}

	rec = s.do(t, http.MethodPut, path, alice.Access, map[string]any{
		"title":  "Write final report",
		"owners": []uint{bob.User.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d body %s", rec.Code, rec.Body)
	}
	decode(t, rec, &task)
	if task.State != "open" || task.Priority != 2 || task.DueDate != nil {
		t.Fatalf("put did not reset fields: %+v", task)
	}
	if len(task.Owners) != 1 || task.Owners[0] != bob.User.ID {
		t.Fatalf("unexpected owners %v", task.Owners)
	}

	rec = s.do(t, http.MethodGet, path, bob.Access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bob get as owner: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPut, path, alice.Access, map[string]any{"description": "no title"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("put without title: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, path, alice.Access, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, path, alice.Access, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")

	rec := s.do(t, http.MethodPost, "/tasks", alice.Access, map[string]any{
		"title":    "",
		"priority": 9,
		"due_date": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"owners":   []uint{999},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var fields map[string][]string
	decode(t, rec, &fields)
	for _, key := range []string{"title", "priority", "due_date", "owners"} {
		if len(fields[key]) == 0 {
			t.Fatalf("expected error on %s, got %v", key, fields)
		}
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")

	for _, body := range []map[string]any{
		{"title": "low", "priority": 1},
		{"title": "urgent", "priority": 4},
		{"title": "done", "priority": 4, "state": "done"},
	} {
		if rec := s.do(t, http.MethodPost, "/tasks", alice.Access, body); rec.Code != http.StatusCreated {
			t.Fatalf("create %v: status %d", body, rec.Code)
		}
	}

	rec := s.do(t, http.MethodGet, "/tasks?priority=4&state=open", alice.Access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var tasks []taskResponse
	decode(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0].Title != "urgent" {
		t.Fatalf("unexpected filtered tasks %+v", tasks)
	}

	rec = s.do(t, http.MethodGet, "/tasks?state=archived&overdue=maybe", alice.Access, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: status %d", rec.Code)
	}
	var fields map[string][]string
	decode(t, rec, &fields)
	if len(fields["state"]) == 0 || len(fields["overdue"]) == 0 {
		t.Fatalf("expected state and overdue errors, got %v", fields)
	}
}

func TestSuperuserTasks(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")
	s.register(t, "root")
	if _, err := s.identity.Promote(context.Background(), "root"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	root := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "root", "password": testPassword})
	var rootAuth authResponse
	decode(t, root, &rootAuth)

	s.do(t, http.MethodPost, "/tasks", alice.Access, map[string]any{"title": "private"})

	rec := s.do(t, http.MethodGet, "/superuser/tasks", alice.Access, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular user: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/superuser/tasks", rootAuth.Access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("superuser: status %d", rec.Code)
	}
	var tasks []taskResponse
	decode(t, rec, &tasks)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	rec = s.do(t, http.MethodGet, "/tasks/"+itoa(tasks[0].ID), rootAuth.Access, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("superuser get of foreign task: status %d", rec.Code)
	}
}

func TestCategories(t *testing.T) {
	s := newTestServer(t, config.Security{})
	alice := s.register(t, "alice")
	s.register(t, "root")
	if _, err := s.identity.Promote(context.Background(), "root"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	rec := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "root", "password": testPassword})
	var root authResponse
	decode(t, rec, &root)

	rec = s.do(t, http.MethodPost, "/categories", alice.Access, map[string]string{"name": "Work"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("regular user create: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/categories", root.Access, map[string]string{"name": "Work"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body)
	}
	var category categoryResponse
	decode(t, rec, &category)

	rec = s.do(t, http.MethodPost, "/categories", root.Access, map[string]string{"name": "Work"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate name: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/tasks", alice.Access, map[string]any{"title": "Quarterly plan", "category": category.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body)
	}
	var task taskResponse
	decode(t, rec, &task)

	rec = s.do(t, http.MethodGet, "/categories", alice.Access, nil)
	var listed []categoryResponse
	decode(t, rec, &listed)
	if len(listed) != 1 || listed[0].Name != "Work" {
		t.Fatalf("unexpected categories %+v", listed)
	}

	rec = s.do(t, http.MethodDelete, "/categories/"+itoa(category.ID), root.Access, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/tasks/"+itoa(task.ID), alice.Access, nil)
	decode(t, rec, &task)
	if task.Category != nil {
		t.Fatalf("expected category to be cleared, got %v", *task.Category)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, config.Security{RateLimitEnabled: true, RateLimitRPS: 0.001, RateLimitBurst: 2})

	body := map[string]string{"username": "nobody", "password": "x"}
	for i := 0; i < 2; i++ {
		if rec := s.do(t, http.MethodPost, "/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i, rec.Code)
		}
	}
	rec := s.do(t, http.MethodPost, "/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{})
	if rec.Code == http.StatusTooManyRequests {
		t.Fatal("refresh should not be rate limited")
	}
}

func TestHealthcheckAndMetrics(t *testing.T) {
	s := newTestServer(t, config.Security{})

	rec := s.do(t, http.MethodGet, "/healthcheck", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthcheck: status %d", rec.Code)
	}
	var health map[string]string
	decode(t, rec, &health)
	if health["status"] != "available" || health["environment"] != "local" || health["version"] != "test" {
		t.Fatalf("unexpected healthcheck %v", health)
	}

	s.register(t, "alice")

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	for _, want := range []string{
		`http_requests_total{method="GET",route="/healthcheck",status="200"} 1`,
		`auth_token_events_total{event="issued"} 1`,
		"http_request_duration_seconds",
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, config.Security{})

	rec := s.do(t, http.MethodGet, "/nope", "", nil)
	if rec.Code != http.StatusNotFound || detail(t, rec) != "Not found." {
		t.Fatalf("status %d body %s", rec.Code, rec.Body)
	}
	rec = s.do(t, http.MethodPut, "/healthcheck", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
