package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vbonduro/checklistsync/internal/domain"
)

type InspectionStore struct {
	db *sql.DB
}

func NewInspectionStore(db *sql.DB) *InspectionStore {
	return &InspectionStore{db: db}
}

const inspectionColumns = `id, property_id, kind, status, extra, created_at, finalized_at`

// Create inserts the inspection for (propertyID, kind), or returns the
// existing one if another writer got there first.
func (s *InspectionStore) Create(ctx context.Context, propertyID, kind string) (*domain.Inspection, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inspections (property_id, kind) VALUES (?, ?)
		ON CONFLICT(property_id, kind) DO NOTHING
	`, propertyID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to create inspection: %w", err)
	}
	return s.GetByProperty(ctx, propertyID, kind)
}

func (s *InspectionStore) GetByID(ctx context.Context, id int64) (*domain.Inspection, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+inspectionColumns+` FROM inspections WHERE id = ?
	`, id))
}

func (s *InspectionStore) GetByProperty(ctx context.Context, propertyID, kind string) (*domain.Inspection, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT `+inspectionColumns+` FROM inspections WHERE property_id = ? AND kind = ?
	`, propertyID, kind))
}

// Finalize marks the inspection finalized and records the extra workflow
// fields supplied at that point.
func (s *InspectionStore) Finalize(ctx context.Context, id int64, extra map[string]any) error {
	var extraJSON any
	if len(extra) > 0 {
		b, err := json.Marshal(extra)
		if err != nil {
			return fmt.Errorf("failed to encode inspection extra fields: %w", err)
		}
		extraJSON = string(b)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE inspections
		SET status = ?, extra = ?, finalized_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(domain.InspectionFinalized), extraJSON, id)
	if err != nil {
		return fmt.Errorf("failed to finalize inspection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("inspection not found")
	}
	return nil
}

func (s *InspectionStore) scanOne(row *sql.Row) (*domain.Inspection, error) {
	in := &domain.Inspection{}
	var status string
	var extra sql.NullString
	var finalizedAt sql.NullTime
	err := row.Scan(&in.ID, &in.PropertyID, &in.Kind, &status, &extra, &in.CreatedAt, &finalizedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection: %w", err)
	}

	in.Status = domain.InspectionStatus(status)
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &in.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode inspection extra fields: %w", err)
		}
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		in.FinalizedAt = &t
	}
	return in, nil
}
