// Package service keeps checklist documents in memory and synchronises them
// with the relational store one section at a time.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/domain"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/media"
	"github.com/vbonduro/checklistsync/internal/notify"
	"github.com/vbonduro/checklistsync/internal/provision"
)

// propertyRepository is the subset of store.PropertyStore that ChecklistService requires.
type propertyRepository interface {
	Upsert(ctx context.Context, id string, bedrooms, bathrooms int) (*domain.Property, error)
	RoomCounts(ctx context.Context, id string) (int, int, error)
}

// inspectionRepository is the subset of store.InspectionStore that ChecklistService requires.
type inspectionRepository interface {
	GetByProperty(ctx context.Context, propertyID, kind string) (*domain.Inspection, error)
	Create(ctx context.Context, propertyID, kind string) (*domain.Inspection, error)
	Finalize(ctx context.Context, id int64, extra map[string]any) error
}

// zoneRepository is the subset of store.ZoneStore that ChecklistService requires.
type zoneRepository interface {
	ListByInspection(ctx context.Context, inspectionID int64) ([]domain.Zone, error)
	CreateBatch(ctx context.Context, zones []domain.Zone) error
}

// elementRepository is the subset of store.ElementStore that ChecklistService requires.
type elementRepository interface {
	UpsertBatch(ctx context.Context, zoneIDs []int64, elements []domain.Element, prune func(name string) bool) error
	ListByZones(ctx context.Context, zoneIDs []int64) ([]domain.Element, error)
	CountByInspection(ctx context.Context, inspectionID int64) (int, error)
}

// uploader is the subset of media.Correlator that ChecklistService requires.
type uploader interface {
	Upload(ctx context.Context, t media.Target, files []media.File) media.Result
}

type Repositories struct {
	Properties  propertyRepository
	Inspections inspectionRepository
	Zones       zoneRepository
	Elements    elementRepository
}

type Options struct {
	Provision provision.Options
	// Debounce is how long staged edits wait for quiet before being applied.
	Debounce time.Duration
}

type sessionKey struct {
	propertyID string
	kind       checklist.Kind
}

// ChecklistService hands out one Session per (property, kind). Sessions of
// different checklists share nothing mutable.
type ChecklistService struct {
	repos    Repositories
	uploader uploader
	notifier notify.Notifier
	events   events.Publisher
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

func NewChecklistService(
	repos Repositories,
	uploader uploader,
	notifier notify.Notifier,
	publisher events.Publisher,
	opts Options,
	logger *slog.Logger,
) *ChecklistService {
	if publisher == nil {
		publisher = events.Discard{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 750 * time.Millisecond
	}
	return &ChecklistService{
		repos:    repos,
		uploader: uploader,
		notifier: notifier,
		events:   publisher,
		opts:     opts,
		logger:   logger,
		sessions: make(map[sessionKey]*Session),
	}
}

// Session returns the session of one checklist, creating it on first use.
// The document is not loaded until Load is called.
func (s *ChecklistService) Session(propertyID string, kind checklist.Kind) (*Session, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if propertyID == "" {
		return nil, fmt.Errorf("property id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{propertyID, kind}
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	sess := newSession(s, propertyID, kind)
	s.sessions[key] = sess
	return sess, nil
}

// UpdateRoomCounts records new bedroom and bathroom counts for a property
// and resizes the dynamic sections of its loaded checklists. Zones for new
// rooms are created when those rooms are saved.
func (s *ChecklistService) UpdateRoomCounts(ctx context.Context, propertyID string, bedrooms, bathrooms int) (*domain.Property, error) {
	if bedrooms < 0 || bathrooms < 0 {
		return nil, fmt.Errorf("room counts must not be negative")
	}
	p, err := s.repos.Properties.Upsert(ctx, propertyID, bedrooms, bathrooms)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var affected []*Session
	for key, sess := range s.sessions {
		if key.propertyID == propertyID {
			affected = append(affected, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range affected {
		sess.resize(bedrooms, bathrooms)
	}
	s.logger.Info("room counts updated", "property_id", propertyID, "bedrooms", bedrooms, "bathrooms", bathrooms)
	return p, nil
}

// Close stops pending debounce timers. Staged edits that were never applied
// are discarded.
func (s *ChecklistService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.debounce.Stop()
	}
}
