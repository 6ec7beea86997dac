package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/vbonduro/checklistsync/internal/domain"
)

type ZoneStore struct {
	db *sql.DB
}

func NewZoneStore(db *sql.DB) *ZoneStore {
	return &ZoneStore{db: db}
}

func (s *ZoneStore) ListByInspection(ctx context.Context, inspectionID int64) ([]domain.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inspection_id, zone_type, zone_name, ordinal, created_at FROM zones
		WHERE inspection_id = ? ORDER BY zone_type ASC, ordinal ASC, zone_name ASC, id ASC
	`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var zones []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.InspectionID, &z.ZoneType, &z.ZoneName, &z.Ordinal, &z.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, z)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zones: %w", err)
	}

	return zones, nil
}

// CreateBatch inserts zones in one transaction. A zone whose (type, ordinal)
// already exists for the inspection is left as it is, so a batch can be
// retried after a partial failure. Only InspectionID, ZoneType, ZoneName and
// Ordinal are read from each zone.
func (s *ZoneStore) CreateBatch(ctx context.Context, zones []domain.Zone) error {
	if len(zones) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO zones (inspection_id, zone_type, zone_name, ordinal) VALUES (?, ?, ?, ?)
		ON CONFLICT(inspection_id, zone_type, ordinal) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare zone insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, z := range zones {
		if _, err := stmt.ExecContext(ctx, z.InspectionID, z.ZoneType, z.ZoneName, z.Ordinal); err != nil {
			return fmt.Errorf("failed to create zone %s: %w", z.ZoneName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit zones: %w", err)
	}
	return nil
}
