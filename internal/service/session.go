package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/domain"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/mapper"
	"github.com/vbonduro/checklistsync/internal/media"
	"github.com/vbonduro/checklistsync/internal/notify"
	"github.com/vbonduro/checklistsync/internal/provision"
)

// SaveState is the single-writer state of a session. Re-hydration after a
// save is gated on it.
type SaveState int

const (
	Idle SaveState = iota
	Saving
	SavingAll
)

func (s SaveState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Saving:
		return "saving"
	case SavingAll:
		return "saving_all"
	default:
		return fmt.Sprintf("save_state(%d)", int(s))
	}
}

// SaveReport summarises one section write.
type SaveReport struct {
	SectionID    string   `json:"sectionId"`
	Elements     int      `json:"elements"`
	Uploaded     int      `json:"uploaded"`
	PendingMedia int      `json:"pendingMedia"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Session owns the in-memory document of one checklist. Only one save runs
// at a time; a save requested while another is in flight is rejected with
// ErrSaveInProgress rather than queued.
type Session struct {
	svc        *ChecklistService
	propertyID string
	kind       checklist.Kind
	machine    *provision.Machine
	debounce   *debouncer
	logger     *slog.Logger

	mu        sync.Mutex
	doc       *checklist.Document
	revisions map[string]uint64
	dirty     map[string]bool
	current   string
	state     SaveState
}

func newSession(svc *ChecklistService, propertyID string, kind checklist.Kind) *Session {
	s := &Session{
		svc:        svc,
		propertyID: propertyID,
		kind:       kind,
		machine:    provision.NewMachine(propertyID, string(kind), svc.repos.Inspections, svc.repos.Zones, svc.opts.Provision, svc.logger),
		logger:     svc.logger.With("property_id", propertyID, "kind", string(kind)),
		revisions:  make(map[string]uint64),
		dirty:      make(map[string]bool),
	}
	s.debounce = newDebouncer(svc.opts.Debounce, s.applyStaged)
	return s
}

// Document returns a copy of the current document, or nil before Load.
func (s *Session) Document() *checklist.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil
	}
	return s.doc.Clone()
}

func (s *Session) State() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ProvisionState() provision.State {
	return s.machine.State()
}

// Load reads the checklist from the store. Without an inspection, or
// before any zone is visible, the document is empty. Sections with unsaved
// edits are kept as they are.
func (s *Session) Load(ctx context.Context) (*checklist.Document, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return s.Document(), nil
}

// UpdateSection replaces a section wholesale with a deep copy of sec and
// makes it the current section. Nothing is persisted.
func (s *Session) UpdateSection(id string, sec *checklist.Section) error {
	prepared, err := prepareSection(id, sec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return ErrNotLoaded
	}
	s.replaceLocked(id, prepared)
	return nil
}

// StageSection validates sec now and applies it once edits to the session
// have been quiet for the debounce delay, or at the next save, whichever
// comes first.
func (s *Session) StageSection(id string, sec *checklist.Section) error {
	prepared, err := prepareSection(id, sec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	loaded := s.doc != nil
	s.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}
	s.debounce.Stage(id, prepared)
	return nil
}

func (s *Session) applyStaged(id string, sec *checklist.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return
	}
	s.replaceLocked(id, sec)
}

func (s *Session) replaceLocked(id string, sec *checklist.Section) {
	s.doc.Sections[id] = sec
	s.revisions[id]++
	s.dirty[id] = true
	s.current = id
}

func prepareSection(id string, sec *checklist.Section) (*checklist.Section, error) {
	if sec == nil {
		return nil, fmt.Errorf("%w %s: section is empty", checklist.ErrInvalidSection, id)
	}
	c := sec.Clone()
	c.ID = id
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveSection persists one section, the current one when id is empty.
func (s *Session) SaveSection(ctx context.Context, id string) (*SaveReport, error) {
	s.debounce.Flush()

	s.mu.Lock()
	if id == "" {
		id = s.current
	}
	s.mu.Unlock()
	if id == "" {
		return nil, ErrNoSection
	}
	if _, ok := checklist.SectionByID(id); !ok {
		return nil, fmt.Errorf("%w: %q", checklist.ErrUnknownSection, id)
	}

	if err := s.beginSave(Saving); err != nil {
		return nil, err
	}
	defer s.endSave()

	report, err := s.saveSection(ctx, id)
	if err != nil {
		return report, err
	}

	if s.shouldRefresh(report) {
		if err := s.refresh(ctx); err != nil {
			s.logger.Warn("failed to reload checklist after save", "section", id, "error", err)
			report.Warnings = append(report.Warnings, "saved, but the checklist could not be reloaded")
		}
	}
	return report, nil
}

// shouldRefresh reports whether the store must be re-read after a single
// section save: only when new media URLs need reflecting, and never during
// a save-all sweep, which reloads once at the end.
func (s *Session) shouldRefresh(report *SaveReport) bool {
	return report.Uploaded > 0 && s.State() == Saving
}

// SaveAll saves every section in catalog order, one after another, then
// reloads the document once. A failing section does not stop the sweep;
// all failures are returned joined.
func (s *Session) SaveAll(ctx context.Context) ([]*SaveReport, error) {
	s.debounce.Flush()
	if err := s.beginSave(SavingAll); err != nil {
		return nil, err
	}
	defer s.endSave()
	return s.saveAll(ctx)
}

func (s *Session) saveAll(ctx context.Context) ([]*SaveReport, error) {
	var reports []*SaveReport
	var errs []error
	for _, def := range checklist.Sections() {
		report, err := s.saveSection(ctx, def.ID)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.refresh(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to reload checklist: %w", err))
	}
	return reports, errors.Join(errs...)
}

// Finalize closes the checklist. Zones must already exist. Every section
// is saved, the store is checked to hold data whenever the document has
// any, and only then is the inspection marked finalized and the workflow
// notified. A notification failure is a warning, not a failure.
func (s *Session) Finalize(ctx context.Context, extra map[string]any) (bool, error) {
	s.debounce.Flush()
	if err := s.beginSave(SavingAll); err != nil {
		return false, err
	}
	defer s.endSave()

	layout, err := s.machine.Lookup(ctx)
	if err != nil {
		return false, err
	}
	if !layout.HasZones() {
		return false, ErrNotProvisioned
	}

	if _, err := s.saveAll(ctx); err != nil {
		return false, err
	}

	inspectionID := layout.InspectionID()
	count, err := s.svc.repos.Elements.CountByInspection(ctx, inspectionID)
	if err != nil {
		return false, err
	}
	if count == 0 && s.Document().HasContent() {
		s.logger.Warn("checklist has content but no stored elements, saving again", "inspection_id", inspectionID)
		if _, err := s.saveAll(ctx); err != nil {
			return false, err
		}
		if count, err = s.svc.repos.Elements.CountByInspection(ctx, inspectionID); err != nil {
			return false, err
		}
		if count == 0 {
			s.publish(events.Event{Type: events.TypeError, Message: ErrNothingPersisted.Error()})
			return false, ErrNothingPersisted
		}
	}

	if err := s.svc.repos.Inspections.Finalize(context.WithoutCancel(ctx), inspectionID, extra); err != nil {
		return false, err
	}
	s.logger.Info("inspection finalized", "inspection_id", inspectionID, "elements", count)

	if err := s.svc.notifier.InspectionFinalized(ctx, notify.Finalized{
		PropertyID:   s.propertyID,
		Kind:         string(s.kind),
		InspectionID: inspectionID,
		ElementCount: count,
		Fields:       extra,
	}); err != nil {
		s.warn("finalized, but the workflow could not be notified", err)
	}

	s.publish(events.Event{Type: events.TypeFinalized})
	return true, nil
}

func (s *Session) beginSave(to SaveState) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.state != Idle {
		current := s.state
		s.mu.Unlock()
		s.logger.Debug("save dropped, another save is in flight", "state", current.String())
		return ErrSaveInProgress
	}
	s.state = to
	s.mu.Unlock()
	s.publish(events.Event{Type: events.TypeState, State: to.String()})
	return nil
}

func (s *Session) endSave() {
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	s.publish(events.Event{Type: events.TypeState, State: Idle.String()})
}

// saveSection provisions zones, uploads pending media, then writes the
// section's elements. Failures are scoped to this section.
func (s *Session) saveSection(ctx context.Context, id string) (*SaveReport, error) {
	report := &SaveReport{SectionID: id}

	s.mu.Lock()
	sec := &checklist.Section{ID: id}
	if live := s.doc.Sections[id]; live != nil {
		sec = live.Clone()
	}
	rev := s.revisions[id]
	s.mu.Unlock()

	layout, err := s.provision(ctx, id, sec)
	if err != nil {
		return report, s.fail(id, true, err)
	}
	za, err := layout.Assignment(id)
	if err != nil {
		return report, s.fail(id, false, err)
	}

	res := s.uploadPending(ctx, layout.InspectionID(), sec, za)
	media.Rewrite(sec, res.Uploaded)
	report.Uploaded = len(res.Uploaded)
	report.PendingMedia = len(res.Failed)

	// Durable URLs go into the live document straight away so that a
	// failed write below never causes a second upload.
	s.mu.Lock()
	if live := s.doc.Sections[id]; live != nil {
		media.Rewrite(live, res.Uploaded)
	}
	s.doc.InspectionID = layout.InspectionID()
	s.mu.Unlock()

	if len(res.Failed) > 0 {
		msg := fmt.Sprintf("%d file(s) in %s failed to upload and will be retried on the next save", len(res.Failed), id)
		report.Warnings = append(report.Warnings, msg)
		s.publish(events.Event{Type: events.TypeWarning, SectionID: id, Message: msg})
	}
	if len(res.Photos) > 0 {
		if err := s.svc.notifier.PhotosUploaded(ctx, notify.PhotoBatch{
			PropertyID:   s.propertyID,
			Kind:         string(s.kind),
			InspectionID: layout.InspectionID(),
			URLs:         res.Photos,
		}); err != nil {
			report.Warnings = append(report.Warnings, "photos saved, but the archive could not be notified")
			s.warn("photo archive notification failed", err)
		}
	}

	elements, err := mapper.FlattenSection(id, sec, za)
	if err != nil {
		return report, s.fail(id, false, err)
	}
	report.Elements = len(elements)

	// An upsert that has started is allowed to finish even if the caller
	// goes away. Only zones of instances present in sec are pruned.
	if err := s.upsert(context.WithoutCancel(ctx), za.WrittenZoneIDs(sec), elements); err != nil {
		return report, s.fail(id, true, err)
	}

	s.mu.Lock()
	if s.revisions[id] == rev && len(res.Failed) == 0 {
		s.dirty[id] = false
	}
	s.mu.Unlock()

	s.logger.Info("section saved", "section", id, "inspection_id", layout.InspectionID(),
		"elements", report.Elements, "uploaded", report.Uploaded, "pending_media", report.PendingMedia)
	s.publish(events.Event{Type: events.TypeSectionSaved, SectionID: id})
	return report, nil
}

// provision makes sure the inspection and the zones sec will be written to
// exist. Dynamic sections get a zone for every instance being saved.
func (s *Session) provision(ctx context.Context, id string, sec *checklist.Section) (*provision.Layout, error) {
	bedrooms, bathrooms, err := s.svc.repos.Properties.RoomCounts(ctx, s.propertyID)
	if err != nil {
		return nil, err
	}
	layout, err := s.machine.Ensure(ctx, bedrooms, bathrooms)
	if err != nil {
		return nil, err
	}
	if def, _ := checklist.SectionByID(id); def.Dynamic() && len(sec.DynamicItems) > 0 {
		return s.machine.EnsureDynamic(ctx, layout, id, len(sec.DynamicItems))
	}
	return layout, nil
}

func (s *Session) uploadPending(ctx context.Context, inspectionID int64, sec *checklist.Section, za mapper.ZoneAssignment) media.Result {
	var files []media.File
	for _, p := range media.CollectPending(sec) {
		zoneID := za.Fixed
		if p.Dynamic >= 0 && p.Dynamic < len(za.Dynamic) {
			zoneID = za.Dynamic[p.Dynamic]
		}
		files = append(files, media.File{Ref: p.Ref, ZoneID: zoneID})
	}
	return s.svc.uploader.Upload(ctx, media.Target{PropertyID: s.propertyID, InspectionID: inspectionID}, files)
}

// upsert writes the elements, retrying once before giving up. Counted-item
// rows the section no longer emits are deleted in the same write.
func (s *Session) upsert(ctx context.Context, zoneIDs []int64, elements []domain.Element) error {
	err := s.svc.repos.Elements.UpsertBatch(ctx, zoneIDs, elements, isCountedItem)
	if err == nil {
		return nil
	}
	s.logger.Warn("element upsert failed, retrying", "error", err)
	return s.svc.repos.Elements.UpsertBatch(ctx, zoneIDs, elements, isCountedItem)
}

func isCountedItem(name string) bool {
	_, _, ok := mapper.ItemElement(name)
	return ok
}

// refresh re-reads the document from the store. Sections edited since
// their last successful save, or edited while the read was in flight, keep
// their in-memory value; pending media of replaced sections is carried
// over, and a section whose pending media has nowhere to go is kept too.
func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	revs := make(map[string]uint64, len(s.revisions))
	for id, r := range s.revisions {
		revs[id] = r
	}
	s.mu.Unlock()

	fresh, err := s.read(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		s.doc = fresh
		return nil
	}
	s.doc.InspectionID = fresh.InspectionID
	kept := 0
	for id, sec := range fresh.Sections {
		if s.dirty[id] || s.revisions[id] != revs[id] {
			kept++
			continue
		}
		if live := s.doc.Sections[id]; live != nil && !media.CarryPending(sec, live) {
			kept++
			continue
		}
		s.doc.Sections[id] = sec
	}
	s.logger.Debug("checklist reloaded", "kept_sections", kept)
	return nil
}

func (s *Session) read(ctx context.Context) (*checklist.Document, error) {
	bedrooms, bathrooms, err := s.svc.repos.Properties.RoomCounts(ctx, s.propertyID)
	if err != nil {
		return nil, err
	}
	layout, err := s.machine.Lookup(ctx)
	if err != nil {
		return nil, err
	}

	var doc *checklist.Document
	if layout.HasZones() {
		ids := make([]int64, 0, len(layout.Zones))
		for _, z := range layout.Zones {
			ids = append(ids, z.ID)
		}
		elements, err := s.svc.repos.Elements.ListByZones(ctx, ids)
		if err != nil {
			return nil, err
		}
		doc = mapper.Hydrate(layout.Zones, elements, bedrooms, bathrooms)
		doc.EnsureSlots()
	} else {
		doc = checklist.NewDocument(s.propertyID, s.kind, bedrooms, bathrooms)
	}
	doc.PropertyID = s.propertyID
	doc.Kind = s.kind
	doc.InspectionID = layout.InspectionID()
	return doc, nil
}

// resize grows dynamic sections to the given room counts. Instances are
// never removed: their zones and data outlive a lower count.
func (s *Session) resize(bedrooms, bathrooms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return
	}
	for _, def := range checklist.Sections() {
		if !def.Dynamic() {
			continue
		}
		sec := s.doc.Sections[def.ID]
		if sec == nil {
			sec = &checklist.Section{ID: def.ID}
			s.doc.Sections[def.ID] = sec
		}
		n := def.Count(bedrooms, bathrooms)
		sec.DynamicCount = n
		for len(sec.DynamicItems) < n {
			sec.DynamicItems = append(sec.DynamicItems, def.NewDynamicItem(len(sec.DynamicItems)+1))
		}
		s.revisions[def.ID]++
	}
}

func (s *Session) fail(id string, retryable bool, err error) error {
	s.logger.Error("section save failed", "section", id, "retryable", retryable, "error", err)
	s.publish(events.Event{Type: events.TypeError, SectionID: id, Message: err.Error()})
	return &SaveError{SectionID: id, Retryable: retryable, Err: err}
}

func (s *Session) warn(msg string, err error) {
	s.logger.Warn(msg, "error", err)
	s.publish(events.Event{Type: events.TypeWarning, Message: msg})
}

func (s *Session) publish(e events.Event) {
	e.PropertyID = s.propertyID
	e.Kind = string(s.kind)
	s.svc.events.Publish(e)
}
