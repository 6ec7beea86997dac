package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vbonduro/checklistsync/internal/domain"
)

type PropertyStore struct {
	db *sql.DB
}

func NewPropertyStore(db *sql.DB) *PropertyStore {
	return &PropertyStore{db: db}
}

func (s *PropertyStore) Upsert(ctx context.Context, id string, bedrooms, bathrooms int) (*domain.Property, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, bedrooms, bathrooms) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			updated_at = CURRENT_TIMESTAMP
	`, id, bedrooms, bathrooms)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert property: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PropertyStore) Get(ctx context.Context, id string) (*domain.Property, error) {
	p := &domain.Property{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bedrooms, bathrooms, updated_at FROM properties WHERE id = ?
	`, id).Scan(&p.ID, &p.Bedrooms, &p.Bathrooms, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}

	return p, nil
}

// RoomCounts returns the bedroom and bathroom counts of a property. An
// unknown property has none of either.
func (s *PropertyStore) RoomCounts(ctx context.Context, id string) (int, int, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	if p == nil {
		return 0, 0, nil
	}
	return p.Bedrooms, p.Bathrooms, nil
}
