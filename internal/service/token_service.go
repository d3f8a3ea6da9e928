package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"task-tracker/internal/config"
	"task-tracker/internal/model"
	"task-tracker/internal/repository"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the payload of both access and refresh tokens.
type Claims struct {
	TokenType string `json:"token_type"`
	UserID    uint   `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenPair is what clients receive on login, register and refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// TokenService issues and validates signed tokens and keeps refresh tokens
// single-use through the credential store.
type TokenService struct {
	repo       *repository.TokenRepository
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	events     *prometheus.CounterVec
}

func NewTokenService(repo *repository.TokenRepository, cfg config.Tokens) *TokenService {
	return &TokenService{
		repo:       repo,
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// RegisterMetrics counts token events (issued, refreshed, rejected, revoked)
// on reg.
func (s *TokenService) RegisterMetrics(reg prometheus.Registerer) error {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_events_total",
			Help: "Token lifecycle events by kind.",
		},
		[]string{"event"},
	)
	if err := reg.Register(events); err != nil {
		return fmt.Errorf("register token metrics: %w", err)
	}
	s.events = events
	return nil
}

func (s *TokenService) count(event string) {
	if s.events != nil {
		s.events.WithLabelValues(event).Inc()
	}
}

// Issue mints a fresh pair for user and records the refresh token.
func (s *TokenService) Issue(ctx context.Context, user *model.User) (TokenPair, error) {
	const op = "service.TokenService.Issue"

	pair, outstanding, err := s.newPair(user.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.CreateOutstanding(ctx, outstanding); err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.count("issued")
	return pair, nil
}

// ValidateAccess checks signature, expiry and type of an access token and
// returns the user id it was issued for. The store is not consulted.
func (s *TokenService) ValidateAccess(tokenString string) (uint, error) {
	claims, err := s.parse(tokenString, TokenTypeAccess)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// blacklisted in the same transaction that records the new one, so of any
// number of concurrent calls with the same token at most one succeeds.
func (s *TokenService) Refresh(ctx context.Context, tokenString string) (TokenPair, error) {
	const op = "service.TokenService.Refresh"

	if tokenString == "" {
		return TokenPair{}, ErrTokenMissing
	}
	claims, err := s.parse(tokenString, TokenTypeRefresh)
	if err != nil {
		s.count("rejected")
		return TokenPair{}, err
	}
	if err := s.checkIssued(ctx, claims); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			s.count("rejected")
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, outstanding, err := s.newPair(claims.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	consumed := &model.BlacklistedToken{
		JTI:           claims.ID,
		UserID:        claims.UserID,
		ExpiresAt:     claims.ExpiresAt.Time.UTC(),
		BlacklistedAt: s.now(),
	}
	if err := s.repo.Rotate(ctx, consumed, outstanding); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.count("rejected")
			return TokenPair{}, ErrTokenInvalid
		}
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	s.count("refreshed")
	return pair, nil
}

// Revoke blacklists a refresh token belonging to caller. Tokens that are
// malformed, expired, of the wrong type, owned by someone else, never issued
// or already blacklisted are all reported as ErrTokenInvalid.
func (s *TokenService) Revoke(ctx context.Context, caller *model.User, tokenString string) error {
	const op = "service.TokenService.Revoke"

	if tokenString == "" {
		return ErrTokenMissing
	}
	claims, err := s.parse(tokenString, TokenTypeRefresh)
	if err != nil {
		return ErrTokenInvalid
	}
	if caller == nil || claims.UserID != caller.ID {
		return ErrTokenInvalid
	}
	if err := s.checkIssued(ctx, claims); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.repo.Blacklist(ctx, &model.BlacklistedToken{
		JTI:           claims.ID,
		UserID:        claims.UserID,
		ExpiresAt:     claims.ExpiresAt.Time.UTC(),
		BlacklistedAt: s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.count("revoked")
	return nil
}

// PurgeExpired removes credential store rows for tokens that have expired.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "service.TokenService.PurgeExpired"

	purged, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return purged, nil
}

// checkIssued rejects refresh tokens the credential store never handed out
// to the user named in claims.
func (s *TokenService) checkIssued(ctx context.Context, claims *Claims) error {
	issued, err := s.repo.FindOutstanding(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if issued.UserID != claims.UserID {
		return ErrTokenInvalid
	}
	return nil
}

func (s *TokenService) newPair(userID uint) (TokenPair, *model.OutstandingToken, error) {
	now := s.now()

	access, _, err := s.sign(userID, TokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}
	refresh, claims, err := s.sign(userID, TokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}

	outstanding := &model.OutstandingToken{
		JTI:       claims.ID,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		CreatedAt: now,
	}
	return TokenPair{Access: access, Refresh: refresh}, outstanding, nil
}

func (s *TokenService) sign(userID uint, tokenType string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	claims := &Claims{
		TokenType: tokenType,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

func (s *TokenService) parse(tokenString, tokenType string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	default:
		return nil, ErrTokenInvalid
	}

	if claims.TokenType != tokenType || claims.ID == "" || claims.UserID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
