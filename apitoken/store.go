package apitoken

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, token *APIToken) error
	GetByID(ctx context.Context, id uuid.UUID) (*APIToken, error)
	List(ctx context.Context) ([]*APIToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Verify resolves a raw token to its record, enforcing active state
	// and expiry.
	Verify(ctx context.Context, rawToken string) (*APIToken, error)
}
