package tabpool

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

// NewMySQLStore creates a new MySQL-backed tab store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create inserts a new tab row.
func (s *MySQLStore) Create(ctx context.Context, tab *Tab) error {
	if err := tab.Validate(); err != nil {
		return err
	}

	if tab.LastUsedAt.IsZero() {
		tab.LastUsedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(tab).Error; err != nil {
		s.logger.Error(ctx, "failed to create tab", map[string]interface{}{
			"error":        err.Error(),
			"service_type": tab.ServiceType,
		})
		return err
	}

	s.logger.Info(ctx, "tab created", map[string]interface{}{
		"tab_id":       tab.ID.String(),
		"service_type": tab.ServiceType,
		"target_id":    tab.TargetID,
	})

	return nil
}

// CreateBounded inserts a new tab row only while the service type holds
// fewer than maxTabs rows. The guarded INSERT ... SELECT makes the
// count and the insert one atomic statement, so racing callers cannot
// push the pool past capacity between checking and creating.
func (s *MySQLStore) CreateBounded(ctx context.Context, tab *Tab, maxTabs int) error {
	if err := tab.Validate(); err != nil {
		return err
	}

	if tab.ID == uuid.Nil {
		tab.ID = uuid.New()
	}
	if tab.State == "" {
		tab.State = StateFree
	}
	now := time.Now()
	if tab.LastUsedAt.IsZero() {
		tab.LastUsedAt = now
	}
	tab.CreatedAt = now
	tab.UpdatedAt = now

	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO tabs (id, service_type, target_id, state, claim_id, owner_job_id, session_id, last_used_at, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 FROM (SELECT COUNT(*) AS tab_count FROM tabs WHERE service_type = ?) existing
		 WHERE existing.tab_count < ?`,
		tab.ID.String(), tab.ServiceType, tab.TargetID, tab.State, tab.ClaimID, tab.OwnerJobID, tab.SessionID,
		tab.LastUsedAt, tab.CreatedAt, tab.UpdatedAt,
		tab.ServiceType, maxTabs,
	)

	if res.Error != nil {
		s.logger.Error(ctx, "failed to create tab", map[string]interface{}{
			"error":        res.Error.Error(),
			"service_type": tab.ServiceType,
		})
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrCapacityExceeded
	}

	s.logger.Info(ctx, "tab created", map[string]interface{}{
		"tab_id":       tab.ID.String(),
		"service_type": tab.ServiceType,
		"target_id":    tab.TargetID,
	})

	return nil
}

// GetByID retrieves a tab by its primary key.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*Tab, error) {
	var tab Tab
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tab).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTabNotFound
		}
		return nil, err
	}

	return &tab, nil
}

// GetByClaimID retrieves a tab by its current claim identifier.
func (s *MySQLStore) GetByClaimID(ctx context.Context, claimID string) (*Tab, error) {
	if claimID == "" {
		return nil, ErrTabNotFound
	}

	var tab Tab
	err := s.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		First(&tab).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTabNotFound
		}
		return nil, err
	}

	return &tab, nil
}

// GetBySession retrieves the tab carrying the given session marker.
func (s *MySQLStore) GetBySession(ctx context.Context, serviceType, sessionID string) (*Tab, error) {
	var tab Tab
	err := s.db.WithContext(ctx).
		Where("service_type = ? AND session_id = ?", serviceType, sessionID).
		First(&tab).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTabNotFound
		}
		return nil, err
	}

	return &tab, nil
}

// FindFree returns any free tab of the service type. No FIFO guarantee.
func (s *MySQLStore) FindFree(ctx context.Context, serviceType string) (*Tab, error) {
	var tab Tab
	err := s.db.WithContext(ctx).
		Where("service_type = ? AND state = ?", serviceType, StateFree).
		First(&tab).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTabNotFound
		}
		return nil, err
	}

	return &tab, nil
}

// Claim atomically transitions a tab from free to busy. The conditional
// update guarantees two callers racing on the same tab id cannot both win.
func (s *MySQLStore) Claim(ctx context.Context, id uuid.UUID, claimID, ownerJobID string) error {
	res := s.db.WithContext(ctx).
		Model(&Tab{}).
		Where("id = ? AND state = ?", id, StateFree).
		Updates(map[string]interface{}{
			"state":        StateBusy,
			"claim_id":     claimID,
			"owner_job_id": ownerJobID,
			"last_used_at": time.Now(),
		})

	if res.Error != nil {
		s.logger.Error(ctx, "failed to claim tab", map[string]interface{}{
			"error":  res.Error.Error(),
			"tab_id": id.String(),
		})
		return res.Error
	}

	if res.RowsAffected == 0 {
		// Either the row is gone or another caller holds it.
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrTabBusy
	}

	s.logger.Debug(ctx, "tab claimed", map[string]interface{}{
		"tab_id":   id.String(),
		"claim_id": claimID,
	})

	return nil
}

// Release transitions a tab back to free. Idempotent: releasing an
// already-free tab is a no-op.
func (s *MySQLStore) Release(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&Tab{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        StateFree,
			"claim_id":     "",
			"owner_job_id": "",
			"last_used_at": time.Now(),
		})

	if res.Error != nil {
		s.logger.Error(ctx, "failed to release tab", map[string]interface{}{
			"error":  res.Error.Error(),
			"tab_id": id.String(),
		})
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrTabNotFound
	}

	return nil
}

// Count returns the number of tabs, optionally filtered by service type.
func (s *MySQLStore) Count(ctx context.Context, serviceType string) (int, error) {
	query := s.db.WithContext(ctx).Model(&Tab{})
	if serviceType != "" {
		query = query.Where("service_type = ?", serviceType)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}

	return int(count), nil
}

// ServiceTypes lists the distinct service types present in the pool.
func (s *MySQLStore) ServiceTypes(ctx context.Context) ([]string, error) {
	var types []string
	err := s.db.WithContext(ctx).
		Model(&Tab{}).
		Distinct("service_type").
		Pluck("service_type", &types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

// ListFreeOldest returns free tabs ordered by least recent use.
func (s *MySQLStore) ListFreeOldest(ctx context.Context, serviceType string, limit int) ([]*Tab, error) {
	var tabs []*Tab
	err := s.db.WithContext(ctx).
		Where("service_type = ? AND state = ?", serviceType, StateFree).
		Order("last_used_at ASC").
		Limit(limit).
		Find(&tabs).Error
	if err != nil {
		return nil, err
	}
	return tabs, nil
}

// Delete removes a tab row.
func (s *MySQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Tab{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTabNotFound
	}
	return nil
}
