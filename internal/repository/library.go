package repository

import (
	"context"

	"cinehub/internal/domain"
)

// LibraryRepository persists one library document per user identity. Reads and
// writes cover the whole record; concurrent writers resolve last-writer-wins.
type LibraryRepository interface {
	Init(ctx context.Context) error
	Get(ctx context.Context, userID string) (domain.Library, error)
	Save(ctx context.Context, userID string, library domain.Library) error
	Delete(ctx context.Context, userID string) error
	ListUserIDs(ctx context.Context) ([]string, error)
}
