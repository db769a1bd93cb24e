package inputlock

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// MySQLStore implements the Store interface using GORM and MySQL. The
// primary key on the lock key column is what makes set-if-absent atomic:
// of two racing inserts exactly one hits a duplicate-key error.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed lock store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// TryAcquire reaps an expired lease for the key, then attempts the
// insert. A duplicate-key failure means another holder owns the lease.
func (s *MySQLStore) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	if token == "" {
		return false, ErrInvalidToken
	}

	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		if err := tx.Where("lock_key = ? AND expires_at <= ?", key, now).Delete(&Lock{}).Error; err != nil {
			return err
		}

		lock := &Lock{
			Key:         key,
			HolderToken: token,
			ExpiresAt:   now.Add(ttl),
		}
		if err := tx.Create(lock).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}

		acquired = true
		return nil
	})

	if err != nil {
		s.logger.Error(ctx, "failed to acquire lock", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		return false, err
	}

	return acquired, nil
}

// Renew pushes the expiry forward via a conditional update. The
// expires_at guard means an already-lapsed lease stays lost even if its
// row has not been reaped yet.
func (s *MySQLStore) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	if token == "" {
		return false, ErrInvalidToken
	}

	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&Lock{}).
		Where("lock_key = ? AND holder_token = ? AND expires_at > ?", key, token, now).
		Update("expires_at", now.Add(ttl))

	if res.Error != nil {
		s.logger.Error(ctx, "failed to renew lock", map[string]interface{}{
			"error": res.Error.Error(),
			"key":   key,
		})
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// Release deletes the lease only if token still owns it.
func (s *MySQLStore) Release(ctx context.Context, key, token string) error {
	err := s.db.WithContext(ctx).
		Where("lock_key = ? AND holder_token = ?", key, token).
		Delete(&Lock{}).Error

	if err != nil {
		s.logger.Error(ctx, "failed to release lock", map[string]interface{}{
			"error": err.Error(),
			"key":   key,
		})
		return err
	}

	return nil
}

// ReapExpired deletes all lapsed lease rows.
func (s *MySQLStore) ReapExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&Lock{})

	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}
