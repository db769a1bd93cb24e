package apitoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrTokenNotFound    = errors.New("api token not found")
	ErrTokenExpired     = errors.New("api token expired")
	ErrTokenInactive    = errors.New("api token is inactive")
	ErrInvalidTokenName = errors.New("token name is required")
)

const (
	DefaultExpiry = 90 * 24 * time.Hour
)

// APIToken authenticates one machine caller (an agent process) against
// the relay API. Only the SHA-256 hash is stored.
type APIToken struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name" gorm:"not null"`
	TokenHash string    `json:"-" gorm:"type:char(64);not null;uniqueIndex:idx_api_tokens_token_hash"`
	IsActive  bool      `json:"is_active" gorm:"not null;default:true"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (APIToken) TableName() string {
	return "api_tokens"
}

func (t *APIToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *APIToken) Validate() error {
	if t.Name == "" {
		return ErrInvalidTokenName
	}
	if t.TokenHash == "" {
		return errors.New("token_hash is required")
	}
	return nil
}

// IsExpired returns true if the token has expired.
func (t *APIToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// GenerateToken creates a new random token with the brt_ prefix.
// Returns the raw token string and its SHA-256 hash; the raw value is
// shown exactly once.
func GenerateToken() (rawToken string, hash string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	rawToken = "brt_" + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes)
	hash = HashToken(rawToken)
	return rawToken, hash, nil
}

// HashToken returns the SHA-256 hex digest of a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h)
}
