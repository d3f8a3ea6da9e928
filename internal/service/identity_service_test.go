package service

import (
	"context"
	"errors"
	"testing"
)

func TestRegister(t *testing.T) {
	f := newFixture(t)
	chatID := int64(4242)

	user, pair, err := f.identity.Register(context.Background(), RegisterInput{
		Username:       "alice",
		Email:          "alice@example.com",
		FirstName:      "Alice",
		Password:       "Correct-Horse-42",
		Password2:      "Correct-Horse-42",
		TelegramChatID: &chatID,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == 0 || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.PasswordHash == "" || user.PasswordHash == "Correct-Horse-42" {
		t.Fatal("expected password to be stored as a hash")
	}
	if user.TelegramChatID == nil || *user.TelegramChatID != chatID {
		t.Fatalf("expected chat id to be kept, got %v", user.TelegramChatID)
	}
	if id, err := f.tokens.ValidateAccess(pair.Access); err != nil || id != user.ID {
		t.Fatalf("issued access token: id=%d err=%v", id, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterInput
		field string
	}{
		{
			name:  "password mismatch",
			input: RegisterInput{Username: "alice", Password: "Correct-Horse-42", Password2: "Correct-Horse-43"},
			field: "password2",
		},
		{
			name:  "missing username",
			input: RegisterInput{Password: "Correct-Horse-42", Password2: "Correct-Horse-42"},
			field: "username",
		},
		{
			name:  "bad username characters",
			input: RegisterInput{Username: "al ice", Password: "Correct-Horse-42", Password2: "Correct-Horse-42"},
			field: "username",
		},
		{
			name:  "bad email",
			input: RegisterInput{Username: "alice", Email: "not-an-email", Password: "Correct-Horse-42", Password2: "Correct-Horse-42"},
			field: "email",
		},
		{
			name:  "short password",
			input: RegisterInput{Username: "alice", Password: "Ab-1", Password2: "Ab-1"},
			field: "password",
		},
		{
			name:  "common password",
			input: RegisterInput{Username: "alice", Password: "password123", Password2: "password123"},
			field: "password",
		},
		{
			name:  "missing password2",
			input: RegisterInput{Username: "alice", Password: "Correct-Horse-42"},
			field: "password2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, err := f.identity.Register(context.Background(), tt.input)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields[tt.field]) == 0 {
				t.Fatalf("expected an error on %q, got %v", tt.field, verr.Fields)
			}

			// Nothing may be persisted for a rejected registration.
			if tt.input.Username != "" {
				taken, err := f.users.UsernameTaken(context.Background(), tt.input.Username)
				if err != nil {
					t.Fatalf("lookup: %v", err)
				}
				if taken {
					t.Fatal("expected no user to be created")
				}
			}
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	_, _, err := f.identity.Register(context.Background(), RegisterInput{
		Username:  "alice",
		Password:  "Another-Horse-42",
		Password2: "Another-Horse-42",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields["username"]) == 0 {
		t.Fatalf("expected username ValidationError, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := f.register(t, "alice")

	user, err := f.identity.Authenticate(ctx, "alice", "Correct-Horse-42")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.ID != alice.ID {
		t.Fatalf("expected alice, got %d", user.ID)
	}

	_, wrongPassword := f.identity.Authenticate(ctx, "alice", "wrong-password")
	_, unknownUser := f.identity.Authenticate(ctx, "nobody", "Correct-Horse-42")
	if !errors.Is(wrongPassword, ErrInvalidCredentials) || !errors.Is(unknownUser, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", wrongPassword, unknownUser)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("failures must look the same, got %q and %q", wrongPassword, unknownUser)
	}
}

func TestLoginIssuesPair(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.register(t, "alice")

	user, pair, err := f.identity.Login(context.Background(), "alice", "Correct-Horse-42")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != alice.ID {
		t.Fatalf("expected alice, got %d", user.ID)
	}
	if _, err := f.tokens.Refresh(context.Background(), pair.Refresh); err != nil {
		t.Fatalf("refresh issued token: %v", err)
	}
}

func TestUserByIDAndPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, _ := f.register(t, "alice")

	found, err := f.identity.UserByID(ctx, alice.ID)
	if err != nil || found.Username != "alice" {
		t.Fatalf("user by id: %v %+v", err, found)
	}
	if found.IsSuperuser {
		t.Fatal("new users must not be superusers")
	}
	if _, err := f.identity.UserByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.identity.Promote(ctx, "alice"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	found, _ = f.identity.UserByID(ctx, alice.ID)
	if !found.IsSuperuser {
		t.Fatal("expected alice to be a superuser")
	}
	if _, err := f.identity.Promote(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterRecordsRefreshToken(t *testing.T) {
	f := newFixture(t)
	alice, pair := f.register(t, "alice")

	claims, err := f.tokens.parse(pair.Refresh, TokenTypeRefresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	issued, err := f.tokensRepo.FindOutstanding(context.Background(), claims.ID)
	if err != nil {
		t.Fatalf("refresh token not recorded: %v", err)
	}
	if issued.UserID != alice.ID {
		t.Fatalf("expected token for user %d, got %d", alice.ID, issued.UserID)
	}
}
