package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"task-tracker/internal/config"
	"task-tracker/internal/logger"
	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

const testSecret = "test-secret"

type fixture struct {
	db         *repository.DB
	users      *repository.UserRepository
	tasksRepo  *repository.TaskRepository
	categories *repository.CategoryRepository
	tokensRepo *repository.TokenRepository

	tokens   *TokenService
	identity *IdentityService
	tasks    *TaskService
	catalog  *CategoryService

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := repository.NewDB(config.Database{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "service.db"),
	}, logger.Discard())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:         db,
		users:      repository.NewUserRepository(db),
		tasksRepo:  repository.NewTaskRepository(db),
		categories: repository.NewCategoryRepository(db),
		tokensRepo: repository.NewTokenRepository(db),
		now:        time.Now().UTC().Truncate(time.Second),
	}
	clock := func() time.Time { return f.now }

	f.tokens = NewTokenService(f.tokensRepo, testTokenConfig()).WithClock(clock)
	f.identity, err = NewIdentityService(f.users, f.tokens, DefaultPasswordPolicy(), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("identity service: %v", err)
	}
	f.tasks = NewTaskService(f.tasksRepo, f.categories, f.users).WithClock(clock)
	f.catalog = NewCategoryService(f.categories)
	return f
}

func testTokenConfig() config.Tokens {
	return config.Tokens{
		Secret:     testSecret,
		Issuer:     "task-tracker",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

// register creates a user through the identity service.
func (f *fixture) register(t *testing.T, username string) (*model.User, TokenPair) {
	t.Helper()
	user, pair, err := f.identity.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     username + "@example.com",
		Password:  "Correct-Horse-42",
		Password2: "Correct-Horse-42",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user, pair
}

func (f *fixture) superuser(t *testing.T, username string) *model.User {
	t.Helper()
	f.register(t, username)
	user, err := f.identity.Promote(context.Background(), username)
	if err != nil {
		t.Fatalf("promote %s: %v", username, err)
	}
	return user
}
