package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

var usernameRegexp = regexp.MustCompile(`^[\w.@+-]+$`)

const (
	maxUsernameLength = 150
	maxNameLength     = 150
	maxEmailLength    = 254
)

// RegisterInput carries the fields of a sign-up request.
type RegisterInput struct {
	Username       string
	Email          string
	FirstName      string
	LastName       string
	Password       string
	Password2      string
	TelegramChatID *int64
}

// IdentityService creates accounts and verifies credentials.
type IdentityService struct {
	users     *repository.UserRepository
	tokens    *TokenService
	policy    PasswordPolicy
	cost      int
	dummyHash []byte
}

func NewIdentityService(users *repository.UserRepository, tokens *TokenService, policy PasswordPolicy, bcryptCost int) (*IdentityService, error) {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	// Compared against when the username is unknown so both failure paths
	// spend the same bcrypt work.
	dummy, err := bcrypt.GenerateFromPassword([]byte("task-tracker-dummy-password"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("service.NewIdentityService: %w", err)
	}
	return &IdentityService{
		users:     users,
		tokens:    tokens,
		policy:    policy,
		cost:      bcryptCost,
		dummyHash: dummy,
	}, nil
}

// Register validates input, stores the user and issues a first token pair.
// The user and its refresh token are stored together or not at all.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*model.User, TokenPair, error) {
	const op = "service.IdentityService.Register"

	user := &model.User{
		Username:       strings.TrimSpace(in.Username),
		Email:          strings.TrimSpace(in.Email),
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		TelegramChatID: in.TelegramChatID,
	}

	v := newValidationError()
	s.validateUser(v, user)
	v.Check(in.Password != "", "password", "This field is required.")
	v.Check(in.Password2 != "", "password2", "This field is required.")
	if in.Password != "" && in.Password2 != "" && in.Password != in.Password2 {
		v.Add("password2", "Passwords do not match.")
	}
	if in.Password != "" && !v.HasErrors() {
		for _, msg := range s.policy.Check(in.Password, user) {
			v.Add("password", msg)
		}
	}
	if _, ok := v.Fields["username"]; !ok {
		taken, err := s.users.UsernameTaken(ctx, user.Username)
		if err != nil {
			return nil, TokenPair{}, fmt.Errorf("%s: %w", op, err)
		}
		v.Check(!taken, "username", "A user with that username already exists.")
	}
	if err := v.Err(); err != nil {
		return nil, TokenPair{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	user.PasswordHash = string(hash)

	var pair TokenPair
	issue := func(stored *model.User) (*model.OutstandingToken, error) {
		var (
			outstanding *model.OutstandingToken
			err         error
		)
		pair, outstanding, err = s.tokens.newPair(stored.ID)
		return outstanding, err
	}
	if err := s.users.Create(ctx, user, issue); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, TokenPair{}, fieldError("username", "A user with that username already exists.")
		}
		return nil, TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	s.tokens.count("issued")
	return user, pair, nil
}

// Authenticate returns the user whose password matches. Unknown users and
// wrong passwords both yield ErrInvalidCredentials after one bcrypt
// comparison each.
func (s *IdentityService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	const op = "service.IdentityService.Authenticate"

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a token pair.
func (s *IdentityService) Login(ctx context.Context, username, password string) (*model.User, TokenPair, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("service.IdentityService.Login: %w", err)
	}
	return user, pair, nil
}

// UserByID resolves the account behind a validated access token.
func (s *IdentityService) UserByID(ctx context.Context, id uint) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("service.IdentityService.UserByID: %w", err)
	}
	return user, nil
}

// Promote grants superuser rights to an existing account.
func (s *IdentityService) Promote(ctx context.Context, username string) (*model.User, error) {
	const op = "service.IdentityService.Promote"

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: user %q: %w", op, username, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.users.SetSuperuser(ctx, user.ID, true); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.IsSuperuser = true
	return user, nil
}

func (s *IdentityService) validateUser(v *ValidationError, user *model.User) {
	switch {
	case user.Username == "":
		v.Add("username", "This field is required.")
	case len([]rune(user.Username)) > maxUsernameLength:
		v.Add("username", fmt.Sprintf("Ensure this field has no more than %d characters.", maxUsernameLength))
	case !usernameRegexp.MatchString(user.Username):
		v.Add("username", "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}
	if user.Email != "" {
		v.Check(len(user.Email) <= maxEmailLength && emailRegexp.MatchString(user.Email), "email", "Enter a valid email address.")
	}
	v.Check(len([]rune(user.FirstName)) <= maxNameLength, "first_name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxNameLength))
	v.Check(len([]rune(user.LastName)) <= maxNameLength, "last_name", fmt.Sprintf("Ensure this field has no more than %d characters.", maxNameLength))
}
