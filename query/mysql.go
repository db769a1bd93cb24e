package query

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed pending-query store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create inserts a new pending query.
func (s *MySQLStore) Create(ctx context.Context, q *PendingQuery) error {
	if err := q.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(q).Error; err != nil {
		s.logger.Error(ctx, "failed to create pending query", map[string]interface{}{
			"error":    err.Error(),
			"claim_id": q.ClaimID,
		})
		return err
	}

	s.logger.Info(ctx, "pending query created", map[string]interface{}{
		"query_id":     q.ID.String(),
		"claim_id":     q.ClaimID,
		"service_type": q.ServiceType,
	})

	return nil
}

// GetByID retrieves a pending query by its primary key.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*PendingQuery, error) {
	var q PendingQuery
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&q).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, err
	}

	return &q, nil
}

// GetByClaimID retrieves a pending query by its tab claim identifier.
func (s *MySQLStore) GetByClaimID(ctx context.Context, claimID string) (*PendingQuery, error) {
	if claimID == "" {
		return nil, ErrPendingNotFound
	}

	var q PendingQuery
	err := s.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		First(&q).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, err
	}

	return &q, nil
}

// Fire records the watcher outcome inside a transaction so concurrent
// firings resolve to exactly one winner.
func (s *MySQLStore) Fire(ctx context.Context, id uuid.UUID, outcome Status) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q PendingQuery
		if err := tx.Where("id = ?", id).First(&q).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPendingNotFound
			}
			return err
		}

		if err := q.Fire(outcome); err != nil {
			return err
		}

		return tx.Save(&q).Error
	})
}

// Collect marks the query as collected.
func (s *MySQLStore) Collect(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q PendingQuery
		if err := tx.Where("id = ?", id).First(&q).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPendingNotFound
			}
			return err
		}

		if err := q.Collect(); err != nil {
			return err
		}

		return tx.Save(&q).Error
	})
}
