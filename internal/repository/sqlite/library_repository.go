package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cinehub/internal/domain"
	"cinehub/internal/repository"
)

const createLibrariesTable = `
CREATE TABLE IF NOT EXISTS libraries (
	user_id TEXT PRIMARY KEY,
	library TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// LibraryRepository stores each user's library as a single JSON document. The
// whole-record contract keeps concurrent page and worker writers simple:
// last writer wins, no partial updates.
type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) repository.LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createLibrariesTable); err != nil {
		return fmt.Errorf("create libraries table: %w", err)
	}
	return nil
}

func (r *LibraryRepository) Get(ctx context.Context, userID string) (domain.Library, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT library FROM libraries WHERE user_id=?`, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.Library{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query library: %w", err)
	}

	var library domain.Library
	if err := json.Unmarshal([]byte(raw), &library); err != nil {
		return nil, fmt.Errorf("decode library: %w", err)
	}
	return library, nil
}

func (r *LibraryRepository) Save(ctx context.Context, userID string, library domain.Library) error {
	raw, err := json.Marshal(library)
	if err != nil {
		return fmt.Errorf("encode library: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO libraries (user_id, library, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET library=excluded.library, updated_at=excluded.updated_at`,
		userID,
		string(raw),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	return nil
}

func (r *LibraryRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM libraries WHERE user_id=?`, userID); err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	return nil
}

func (r *LibraryRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM libraries ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query library users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan library user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
