package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vbonduro/checklistsync/internal/domain"
)

type ElementStore struct {
	db *sql.DB
}

func NewElementStore(db *sql.DB) *ElementStore {
	return &ElementStore{db: db}
}

const elementColumns = `id, zone_id, element_name, position, condition, notes,
	image_urls, video_urls, quantity, exists_flag, bad_elements, updated_at`

// UpsertBatch writes elements in a single transaction keyed on
// (zone_id, element_name): an element that already exists is overwritten.
// When prune is non-nil, rows in zoneIDs that were not written and whose
// name satisfies prune are deleted in the same transaction.
func (s *ElementStore) UpsertBatch(ctx context.Context, zoneIDs []int64, elements []domain.Element, prune func(name string) bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO elements (zone_id, element_name, position, condition, notes,
			image_urls, video_urls, quantity, exists_flag, bad_elements)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(zone_id, element_name) DO UPDATE SET
			position = excluded.position,
			condition = excluded.condition,
			notes = excluded.notes,
			image_urls = excluded.image_urls,
			video_urls = excluded.video_urls,
			quantity = excluded.quantity,
			exists_flag = excluded.exists_flag,
			bad_elements = excluded.bad_elements,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare element upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	written := make(map[int64]map[string]bool)
	for _, el := range elements {
		imageURLs, err := encodeList(el.ImageURLs)
		if err != nil {
			return err
		}
		videoURLs, err := encodeList(el.VideoURLs)
		if err != nil {
			return err
		}
		bad, err := encodeList(el.BadElements)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			el.ZoneID, el.Name, el.Position, el.Condition, el.Notes,
			imageURLs, videoURLs, el.Quantity, el.Exists, bad,
		); err != nil {
			return fmt.Errorf("failed to upsert element %s in zone %d: %w", el.Name, el.ZoneID, err)
		}
		if written[el.ZoneID] == nil {
			written[el.ZoneID] = make(map[string]bool)
		}
		written[el.ZoneID][el.Name] = true
	}

	if prune != nil {
		for _, zoneID := range zoneIDs {
			if err := pruneZone(ctx, tx, zoneID, written[zoneID], prune); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit elements: %w", err)
	}
	return nil
}

func pruneZone(ctx context.Context, tx *sql.Tx, zoneID int64, keep map[string]bool, prune func(string) bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT element_name FROM elements WHERE zone_id = ?`, zoneID)
	if err != nil {
		return fmt.Errorf("failed to list elements for pruning: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan element name: %w", err)
		}
		if !keep[name] && prune(name) {
			stale = append(stale, name)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating elements: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to close rows: %w", err)
	}

	for _, name := range stale {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM elements WHERE zone_id = ? AND element_name = ?
		`, zoneID, name); err != nil {
			return fmt.Errorf("failed to prune element %s: %w", name, err)
		}
	}
	if len(stale) > 0 {
		slog.Debug("pruned stale elements", "zone_id", zoneID, "count", len(stale))
	}
	return nil
}

// ListByZones returns the elements of the given zones ordered by zone and
// position.
func (s *ElementStore) ListByZones(ctx context.Context, zoneIDs []int64) ([]domain.Element, error) {
	if len(zoneIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(zoneIDs)), ",")
	args := make([]any, len(zoneIDs))
	for i, id := range zoneIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementColumns+` FROM elements
		WHERE zone_id IN (`+placeholders+`)
		ORDER BY zone_id ASC, position ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list elements: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "error", err)
		}
	}()

	var elements []domain.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating elements: %w", err)
	}

	return elements, nil
}

// CountByInspection counts the elements stored across every zone of an
// inspection.
func (s *ElementStore) CountByInspection(ctx context.Context, inspectionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM elements e
		JOIN zones z ON z.id = e.zone_id
		WHERE z.inspection_id = ?
	`, inspectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count elements: %w", err)
	}
	return n, nil
}

func scanElement(rows *sql.Rows) (domain.Element, error) {
	var (
		el                        domain.Element
		condition, notes          sql.NullString
		imageURLs, videoURLs, bad sql.NullString
		quantity                  sql.NullInt64
		exists                    sql.NullBool
	)
	if err := rows.Scan(&el.ID, &el.ZoneID, &el.Name, &el.Position, &condition, &notes,
		&imageURLs, &videoURLs, &quantity, &exists, &bad, &el.UpdatedAt); err != nil {
		return el, fmt.Errorf("failed to scan element: %w", err)
	}

	if condition.Valid {
		el.Condition = &condition.String
	}
	if notes.Valid {
		el.Notes = &notes.String
	}
	if quantity.Valid {
		q := int(quantity.Int64)
		el.Quantity = &q
	}
	if exists.Valid {
		el.Exists = &exists.Bool
	}

	var err error
	if el.ImageURLs, err = decodeList(imageURLs); err != nil {
		return el, fmt.Errorf("element %d image_urls: %w", el.ID, err)
	}
	if el.VideoURLs, err = decodeList(videoURLs); err != nil {
		return el, fmt.Errorf("element %d video_urls: %w", el.ID, err)
	}
	if el.BadElements, err = decodeList(bad); err != nil {
		return el, fmt.Errorf("element %d bad_elements: %w", el.ID, err)
	}
	return el, nil
}

// encodeList stores a string list as a JSON array, or NULL when empty.
func encodeList(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s.String), &list); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return list, nil
}
