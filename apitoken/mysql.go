package apitoken

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// MySQLStore implements the Store interface using GORM and MySQL.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new MySQL-backed token store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create inserts a new token record.
func (s *MySQLStore) Create(ctx context.Context, token *APIToken) error {
	if err := token.Validate(); err != nil {
		return err
	}

	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = time.Now().Add(DefaultExpiry)
	}

	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		s.logger.Error(ctx, "failed to create api token", map[string]interface{}{
			"error": err.Error(),
			"name":  token.Name,
		})
		return err
	}

	s.logger.Info(ctx, "api token created", map[string]interface{}{
		"token_id": token.ID.String(),
		"name":     token.Name,
	})

	return nil
}

// GetByID retrieves a token by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*APIToken, error) {
	var token APIToken
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&token).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	return &token, nil
}

// List returns all token records.
func (s *MySQLStore) List(ctx context.Context) ([]*APIToken, error) {
	var tokens []*APIToken
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Revoke deactivates a token without deleting its record.
func (s *MySQLStore) Revoke(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&APIToken{}).
		Where("id = ?", id).
		Update("is_active", false)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// Delete removes a token record.
func (s *MySQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&APIToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Verify resolves a raw token, rejecting inactive and expired records.
func (s *MySQLStore) Verify(ctx context.Context, rawToken string) (*APIToken, error) {
	var token APIToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", HashToken(rawToken)).
		First(&token).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if !token.IsActive {
		return nil, ErrTokenInactive
	}
	if token.IsExpired() {
		return nil, ErrTokenExpired
	}

	return &token, nil
}
