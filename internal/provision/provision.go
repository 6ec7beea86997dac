// Package provision makes sure the relational containers a checklist is
// written into exist: the inspection row and one zone per section instance.
// Creation is lazy and the store may lag behind its own writes, so every
// creation is confirmed by reading it back.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/domain"
	"github.com/vbonduro/checklistsync/internal/mapper"
)

type State int

const (
	NoInspection State = iota
	InspectionCreating
	ZonesMissing
	ZonesCreating
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NoInspection:
		return "no_inspection"
	case InspectionCreating:
		return "inspection_creating"
	case ZonesMissing:
		return "zones_missing"
	case ZonesCreating:
		return "zones_creating"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrCreateFailed means the store rejected an inspection or zone insert.
	// Nothing was provisioned by the failing step.
	ErrCreateFailed = errors.New("provisioning failed")
	// ErrNotVisible means rows were created but could not be read back
	// within the retry budget. The caller should ask the user to retry.
	ErrNotVisible = errors.New("provisioned rows not visible yet")
)

// inspectionRepository is the subset of store.InspectionStore that Machine requires.
type inspectionRepository interface {
	GetByProperty(ctx context.Context, propertyID, kind string) (*domain.Inspection, error)
	Create(ctx context.Context, propertyID, kind string) (*domain.Inspection, error)
}

// zoneRepository is the subset of store.ZoneStore that Machine requires.
type zoneRepository interface {
	ListByInspection(ctx context.Context, inspectionID int64) ([]domain.Zone, error)
	CreateBatch(ctx context.Context, zones []domain.Zone) error
}

// Layout is a snapshot of the containers of one checklist. Inspection is
// nil when none exists yet.
type Layout struct {
	Inspection *domain.Inspection
	Zones      []domain.Zone
}

func (l *Layout) InspectionID() int64 {
	if l == nil || l.Inspection == nil {
		return 0
	}
	return l.Inspection.ID
}

func (l *Layout) HasZones() bool {
	return l != nil && len(l.Zones) > 0
}

// Assignment maps a section onto its zones. Dynamic instances are assigned
// in ordinal order, the same order hydration reads them back in.
func (l *Layout) Assignment(sectionID string) (mapper.ZoneAssignment, error) {
	def, ok := checklist.SectionByID(sectionID)
	if !ok {
		return mapper.ZoneAssignment{}, fmt.Errorf("%w: %q", checklist.ErrUnknownSection, sectionID)
	}
	typed := mapper.GroupZones(l.Zones)[def.ZoneType]
	if def.Dynamic() {
		var za mapper.ZoneAssignment
		for _, z := range typed {
			za.Dynamic = append(za.Dynamic, z.ID)
		}
		return za, nil
	}
	if len(typed) == 0 {
		return mapper.ZoneAssignment{}, fmt.Errorf("%w for section %s", mapper.ErrMissingZone, sectionID)
	}
	return mapper.ZoneAssignment{Fixed: typed[0].ID}, nil
}

type Options struct {
	// MaxAttempts bounds read-back attempts after a create. Zero means 5.
	MaxAttempts int
	// Backoff is the first delay between read-back attempts; it doubles
	// after every attempt. Zero means 200ms.
	Backoff time.Duration
}

// Machine provisions the containers of one (property, kind) checklist. It
// is safe for concurrent use; calls are serialised.
type Machine struct {
	propertyID  string
	kind        string
	inspections inspectionRepository
	zones       zoneRepository
	opts        Options
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
}

func NewMachine(propertyID, kind string, inspections inspectionRepository, zones zoneRepository, opts Options, logger *slog.Logger) *Machine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	return &Machine{
		propertyID:  propertyID,
		kind:        kind,
		inspections: inspections,
		zones:       zones,
		opts:        opts,
		logger:      logger.With("property_id", propertyID, "kind", kind),
		sleep:       sleepCtx,
		state:       NoInspection,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	if m.state != s {
		m.logger.Debug("provisioning state", "from", m.state.String(), "to", s.String())
	}
	m.state = s
}

// Lookup reads the current layout without creating anything.
func (m *Machine) Lookup(ctx context.Context) (*Layout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, err := m.inspections.GetByProperty(ctx, m.propertyID, m.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to look up inspection: %w", err)
	}
	if in == nil {
		m.setState(NoInspection)
		return &Layout{}, nil
	}
	zones, err := m.zones.ListByInspection(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	if len(zones) == 0 {
		m.setState(ZonesMissing)
	} else {
		m.setState(Ready)
	}
	return &Layout{Inspection: in, Zones: zones}, nil
}

// Ensure provisions the inspection and every zone missing from the full
// set, with dynamic sections sized by bedrooms and bathrooms. All missing
// zones are created in one pass.
func (m *Machine) Ensure(ctx context.Context, bedrooms, bathrooms int) (*Layout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, err := m.ensureInspection(ctx)
	if err != nil {
		return nil, err
	}

	zones, err := m.zones.ListByInspection(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones: %w", err)
	}
	missing := planZones(in.ID, zones, bedrooms, bathrooms)
	if len(missing) == 0 {
		m.setState(Ready)
		return &Layout{Inspection: in, Zones: zones}, nil
	}

	m.setState(ZonesMissing)
	m.setState(ZonesCreating)
	m.logger.Info("creating zones", "inspection_id", in.ID, "count", len(missing))
	if err := m.zones.CreateBatch(ctx, missing); err != nil {
		m.setState(Failed)
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	return m.awaitZones(ctx, in, missing)
}

// EnsureDynamic makes sure a dynamic section has at least needed zones,
// creating the missing ones one at a time after the highest ordinal in
// use. Room counts may change after the first provisioning pass, so this
// runs at save time.
func (m *Machine) EnsureDynamic(ctx context.Context, layout *Layout, sectionID string, needed int) (*Layout, error) {
	def, ok := checklist.SectionByID(sectionID)
	if !ok || !def.Dynamic() {
		return nil, fmt.Errorf("%w: %q is not a dynamic section", checklist.ErrUnknownSection, sectionID)
	}
	if layout == nil || layout.Inspection == nil {
		return nil, fmt.Errorf("%w: no inspection to attach zones to", ErrCreateFailed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	typed := mapper.GroupZones(layout.Zones)[def.ZoneType]
	if len(typed) >= needed {
		return layout, nil
	}

	next := 0
	for _, z := range typed {
		next = max(next, z.Ordinal)
	}

	m.setState(ZonesCreating)
	var created []domain.Zone
	for i := len(typed); i < needed; i++ {
		next++
		z := domain.Zone{
			InspectionID: layout.Inspection.ID,
			ZoneType:     def.ZoneType,
			ZoneName:     def.ZoneNameFor(next),
			Ordinal:      next,
		}
		if err := m.zones.CreateBatch(ctx, []domain.Zone{z}); err != nil {
			m.setState(Failed)
			return nil, fmt.Errorf("%w: zone %s: %w", ErrCreateFailed, z.ZoneName, err)
		}
		m.logger.Info("created dynamic zone", "inspection_id", layout.Inspection.ID, "zone_name", z.ZoneName)
		created = append(created, z)
	}

	return m.awaitZones(ctx, layout.Inspection, created)
}

func (m *Machine) ensureInspection(ctx context.Context) (*domain.Inspection, error) {
	in, err := m.inspections.GetByProperty(ctx, m.propertyID, m.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to look up inspection: %w", err)
	}
	if in != nil {
		return in, nil
	}

	m.setState(InspectionCreating)
	m.logger.Info("creating inspection")
	if _, err := m.inspections.Create(ctx, m.propertyID, m.kind); err != nil {
		m.setState(Failed)
		return nil, fmt.Errorf("%w: inspection: %w", ErrCreateFailed, err)
	}

	err = m.retry(ctx, func() (bool, error) {
		in, err = m.inspections.GetByProperty(ctx, m.propertyID, m.kind)
		return in != nil, err
	})
	if err != nil {
		m.setState(Failed)
		return nil, err
	}
	m.setState(ZonesMissing)
	return in, nil
}

// awaitZones re-reads the zones of in until every zone in want is visible.
func (m *Machine) awaitZones(ctx context.Context, in *domain.Inspection, want []domain.Zone) (*Layout, error) {
	var zones []domain.Zone
	err := m.retry(ctx, func() (bool, error) {
		var err error
		zones, err = m.zones.ListByInspection(ctx, in.ID)
		if err != nil {
			return false, err
		}
		return containsAll(zones, want), nil
	})
	if err != nil {
		m.setState(Failed)
		return nil, err
	}
	m.setState(Ready)
	return &Layout{Inspection: in, Zones: zones}, nil
}

// retry calls check until it reports done, backing off exponentially
// between attempts. Read errors count as an unsuccessful attempt.
func (m *Machine) retry(ctx context.Context, check func() (bool, error)) error {
	delay := m.opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		done, err := check()
		if err == nil && done {
			return nil
		}
		lastErr = err
		if attempt == m.opts.MaxAttempts {
			break
		}
		m.logger.Debug("provisioned rows not visible, retrying", "attempt", attempt, "delay", delay, "error", err)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrNotVisible, m.opts.MaxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrNotVisible, m.opts.MaxAttempts)
}

type zoneKey struct {
	zoneType string
	ordinal  int
}

func containsAll(zones, want []domain.Zone) bool {
	have := make(map[zoneKey]bool, len(zones))
	for _, z := range zones {
		have[zoneKey{z.ZoneType, z.Ordinal}] = true
	}
	for _, z := range want {
		if !have[zoneKey{z.ZoneType, z.Ordinal}] {
			return false
		}
	}
	return true
}

// planZones lists the zones missing from the full set: one per fixed
// section and one per room for dynamic sections, numbered after the
// highest ordinal already in use.
func planZones(inspectionID int64, existing []domain.Zone, bedrooms, bathrooms int) []domain.Zone {
	byType := mapper.GroupZones(existing)
	var out []domain.Zone
	for _, def := range checklist.Sections() {
		typed := byType[def.ZoneType]
		if !def.Dynamic() {
			if len(typed) == 0 {
				out = append(out, domain.Zone{InspectionID: inspectionID, ZoneType: def.ZoneType, ZoneName: def.ZoneName})
			}
			continue
		}
		next := 0
		for _, z := range typed {
			next = max(next, z.Ordinal)
		}
		for i := len(typed); i < def.Count(bedrooms, bathrooms); i++ {
			next++
			out = append(out, domain.Zone{
				InspectionID: inspectionID,
				ZoneType:     def.ZoneType,
				ZoneName:     def.ZoneNameFor(next),
				Ordinal:      next,
			})
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
