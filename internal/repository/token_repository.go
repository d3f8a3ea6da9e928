package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-tracker/internal/model"
)

// TokenRepository is the credential store: issued refresh tokens and the
// blacklist of consumed or revoked ones.
type TokenRepository struct {
	db *DB
}

func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) CreateOutstanding(ctx context.Context, token *model.OutstandingToken) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	if err := db.Create(token).Error; err != nil {
		return fmt.Errorf("create outstanding token: %w", err)
	}
	return nil
}

// Blacklist inserts entry unless its jti is already blacklisted, in which
// case ErrDuplicate is returned. The insert is the single check-and-set.
func (r *TokenRepository) Blacklist(ctx context.Context, entry *model.BlacklistedToken) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	return blacklist(db, entry)
}

// Rotate blacklists consumed and records next in one transaction. When
// consumed was already blacklisted nothing is written and ErrDuplicate is
// returned, so at most one caller rotates a given token.
func (r *TokenRepository) Rotate(ctx context.Context, consumed *model.BlacklistedToken, next *model.OutstandingToken) error {
	db, cancel := r.db.session(ctx)
	defer cancel()

	return db.Transaction(func(tx *gorm.DB) error {
		if err := blacklist(tx, consumed); err != nil {
			return err
		}
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("create outstanding token: %w", err)
		}
		return nil
	})
}

// FindOutstanding returns the issued refresh token with jti.
func (r *TokenRepository) FindOutstanding(ctx context.Context, jti string) (*model.OutstandingToken, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var token model.OutstandingToken
	if err := db.Where("jti = ?", jti).First(&token).Error; err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}

// PurgeExpired drops blacklist and outstanding rows whose token expired
// before now. An expired token fails validation on its own.
func (r *TokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	db, cancel := r.db.session(ctx)
	defer cancel()

	var purged int64
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at < ?", now).Delete(&model.BlacklistedToken{})
		if res.Error != nil {
			return fmt.Errorf("purge blacklist: %w", res.Error)
		}
		purged += res.RowsAffected

		res = tx.Where("expires_at < ?", now).Delete(&model.OutstandingToken{})
		if res.Error != nil {
			return fmt.Errorf("purge outstanding tokens: %w", res.Error)
		}
		purged += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func blacklist(db *gorm.DB, entry *model.BlacklistedToken) error {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jti"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return fmt.Errorf("blacklist token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("blacklist token %s: %w", entry.JTI, ErrDuplicate)
	}
	return nil
}
