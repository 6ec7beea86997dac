package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/db"
	"github.com/vbonduro/checklistsync/internal/domain"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/media"
	"github.com/vbonduro/checklistsync/internal/notify"
	"github.com/vbonduro/checklistsync/internal/objectstore/local"
	"github.com/vbonduro/checklistsync/internal/provision"
	"github.com/vbonduro/checklistsync/internal/store"
)

// flakyObjectStore wraps a real store and fails saves whose key contains
// any of the configured fragments.
type flakyObjectStore struct {
	*local.LocalStore
	mu     sync.Mutex
	failOn []string
}

func (f *flakyObjectStore) Save(ctx context.Context, key, mimeType string, r io.Reader) (string, error) {
	f.mu.Lock()
	fail := false
	for _, frag := range f.failOn {
		if strings.Contains(key, frag) {
			fail = true
		}
	}
	f.mu.Unlock()
	if fail {
		return "", errors.New("network unreachable")
	}
	return f.LocalStore.Save(ctx, key, mimeType, r)
}

func (f *flakyObjectStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = nil
}

// elementSpy wraps the real element store to count reads and inject write
// failures.
type elementSpy struct {
	*store.ElementStore
	lists      atomic.Int32
	failWrites atomic.Int32
	dropWrites bool
}

func (e *elementSpy) UpsertBatch(ctx context.Context, zoneIDs []int64, elements []domain.Element, prune func(string) bool) error {
	if e.failWrites.Load() > 0 {
		e.failWrites.Add(-1)
		return errors.New("database is locked")
	}
	if e.dropWrites {
		return nil
	}
	return e.ElementStore.UpsertBatch(ctx, zoneIDs, elements, prune)
}

func (e *elementSpy) ListByZones(ctx context.Context, zoneIDs []int64) ([]domain.Element, error) {
	e.lists.Add(1)
	return e.ElementStore.ListByZones(ctx, zoneIDs)
}

type recordingNotifier struct {
	mu        sync.Mutex
	photos    []notify.PhotoBatch
	finalized []notify.Finalized
	err       error
}

func (n *recordingNotifier) PhotosUploaded(_ context.Context, b notify.PhotoBatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.photos = append(n.photos, b)
	return n.err
}

func (n *recordingNotifier) InspectionFinalized(_ context.Context, f notify.Finalized) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finalized = append(n.finalized, f)
	return n.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	db        *sql.DB
	svc       *ChecklistService
	objects   *flakyObjectStore
	elements  *elementSpy
	notifier  *recordingNotifier
	publisher *recordingPublisher
	zones     *store.ZoneStore
}

func newHarness(t *testing.T, bedrooms, bathrooms int) *harness {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ls, err := local.NewLocalStore(t.TempDir(), "http://media.test/media")
	require.NoError(t, err)

	h := &harness{
		db:        d,
		objects:   &flakyObjectStore{LocalStore: ls},
		elements:  &elementSpy{ElementStore: store.NewElementStore(d)},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		zones:     store.NewZoneStore(d),
	}
	properties := store.NewPropertyStore(d)
	_, err = properties.Upsert(context.Background(), "prop-1", bedrooms, bathrooms)
	require.NoError(t, err)

	h.svc = h.newService(properties)
	t.Cleanup(h.svc.Close)
	return h
}

func (h *harness) newService(properties *store.PropertyStore) *ChecklistService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewChecklistService(
		Repositories{
			Properties:  properties,
			Inspections: store.NewInspectionStore(h.db),
			Zones:       h.zones,
			Elements:    h.elements,
		},
		media.NewCorrelator(h.objects, media.Options{Concurrency: 2}, logger),
		h.notifier,
		h.publisher,
		Options{Provision: provision.Options{MaxAttempts: 2, Backoff: time.Millisecond}, Debounce: 20 * time.Millisecond},
		logger,
	)
}

func (h *harness) session(t *testing.T, kind checklist.Kind) *Session {
	t.Helper()
	sess, err := h.svc.Session("prop-1", kind)
	require.NoError(t, err)
	_, err = sess.Load(context.Background())
	require.NoError(t, err)
	return sess
}

func (h *harness) elementsOf(t *testing.T, zoneID int64) map[string]domain.Element {
	t.Helper()
	els, err := h.elements.ElementStore.ListByZones(context.Background(), []int64{zoneID})
	require.NoError(t, err)
	out := make(map[string]domain.Element, len(els))
	for _, el := range els {
		out[el.Name] = el
	}
	return out
}

func (h *harness) zonesOfType(t *testing.T, inspectionID int64, zoneType string) []domain.Zone {
	t.Helper()
	zones, err := h.zones.ListByInspection(context.Background(), inspectionID)
	require.NoError(t, err)
	var out []domain.Zone
	for _, z := range zones {
		if z.ZoneType == zoneType {
			out = append(out, z)
		}
	}
	return out
}

func jpeg(id string) checklist.MediaRef {
	return checklist.MediaRef{ID: id, MimeType: "image/jpeg", Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, byte(len(id))}}
}

func kitchen(doc *checklist.Document) *checklist.Section {
	s := doc.Sections["cocina"].Clone()
	s.UploadSlots[0].Photos = []checklist.MediaRef{jpeg("k1")}
	s.Questions = []checklist.Question{
		{ID: "paredes", Status: checklist.StatusNeedsRepair, Notes: "damp", BadElements: []string{"window", "door"}},
	}
	s.Items = []checklist.CategorizedItem{
		{ID: "horno", Category: checklist.CategoryAppliances, Count: 1, Status: checklist.StatusGood},
	}
	return s
}

func TestLoadWithoutInspectionIsEmpty(t *testing.T) {
	h := newHarness(t, 2, 1)
	sess := h.session(t, checklist.KindInitial)

	doc := sess.Document()
	require.NotNil(t, doc)
	assert.Zero(t, doc.InspectionID)
	assert.Len(t, doc.Sections, 8)
	assert.Len(t, doc.Sections["habitaciones"].DynamicItems, 2)
	assert.False(t, doc.HasContent())
	assert.Equal(t, provision.NoInspection, sess.ProvisionState())
}

func TestDocumentNilBeforeLoad(t *testing.T) {
	h := newHarness(t, 0, 0)
	sess, err := h.svc.Session("prop-1", checklist.KindFinal)
	require.NoError(t, err)

	assert.Nil(t, sess.Document())
	assert.ErrorIs(t, sess.UpdateSection("cocina", &checklist.Section{}), ErrNotLoaded)
	_, err = sess.SaveSection(context.Background(), "cocina")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestSessionRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, 0, 0)
	_, err := h.svc.Session("prop-1", checklist.Kind("midterm"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSessionsAreIndependentPerKind(t *testing.T) {
	h := newHarness(t, 1, 1)
	initial := h.session(t, checklist.KindInitial)
	final := h.session(t, checklist.KindFinal)
	assert.NotSame(t, initial, final)

	again, err := h.svc.Session("prop-1", checklist.KindInitial)
	require.NoError(t, err)
	assert.Same(t, initial, again)

	require.NoError(t, initial.UpdateSection("cocina", kitchen(initial.Document())))
	assert.False(t, final.Document().HasContent())
}

func TestUpdateSectionIsDeepCopied(t *testing.T) {
	h := newHarness(t, 1, 1)
	sess := h.session(t, checklist.KindInitial)

	sec := kitchen(sess.Document())
	require.NoError(t, sess.UpdateSection("cocina", sec))
	sec.Questions[0].BadElements[0] = "mutated"

	got := sess.Document().Sections["cocina"]
	assert.Equal(t, "window", got.Questions[0].BadElements[0])
}

func TestUpdateSectionValidates(t *testing.T) {
	h := newHarness(t, 1, 1)
	sess := h.session(t, checklist.KindInitial)

	err := sess.UpdateSection("cocina", &checklist.Section{Contents: checklist.Contents{
		Questions: []checklist.Question{{ID: "fotos-trampa"}},
	}})
	assert.ErrorIs(t, err, checklist.ErrInvalidSection)

	err = sess.UpdateSection("garaje", &checklist.Section{})
	assert.ErrorIs(t, err, checklist.ErrUnknownSection)
}

func TestSaveSectionProvisionsUploadsAndPersists(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	require.NoError(t, sess.UpdateSection("cocina", kitchen(sess.Document())))
	report, err := sess.SaveSection(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "cocina", report.SectionID)
	assert.Equal(t, 1, report.Uploaded)
	assert.Zero(t, report.PendingMedia)
	assert.Equal(t, provision.Ready, sess.ProvisionState())
	assert.Equal(t, Idle, sess.State())

	doc := sess.Document()
	require.NotZero(t, doc.InspectionID)
	photo := doc.Sections["cocina"].UploadSlots[0].Photos[0]
	assert.Equal(t, "k1", photo.ID)
	assert.True(t, photo.Durable())
	assert.Nil(t, photo.Data)
	assert.Equal(t, "http://media.test/media/prop-1/"+itoa(doc.InspectionID)+"/"+itoa(h.zonesOfType(t, doc.InspectionID, "cocina")[0].ID)+"/k1.jpg", photo.URL)

	// Every zone kind exists after the first save.
	zones, err := h.zones.ListByInspection(ctx, doc.InspectionID)
	require.NoError(t, err)
	assert.Len(t, zones, 8)

	require.Len(t, h.notifier.photos, 1)
	assert.Equal(t, []string{photo.URL}, h.notifier.photos[0].URLs)

	// A fresh service sees the same document.
	other := h.newService(store.NewPropertyStore(h.db))
	reloaded, err := other.Session("prop-1", checklist.KindInitial)
	require.NoError(t, err)
	rdoc, err := reloaded.Load(ctx)
	require.NoError(t, err)
	k := rdoc.Sections["cocina"]
	assert.Equal(t, photo, k.UploadSlots[0].Photos[0])
	require.Len(t, k.Questions, 1)
	assert.Equal(t, []string{"window", "door"}, k.Questions[0].BadElements)
	assert.Equal(t, "damp", k.Questions[0].Notes)
	require.Len(t, k.Items, 1)
	assert.Equal(t, "horno", k.Items[0].ID)
	assert.Len(t, rdoc.Sections["salon"].UploadSlots, 2)
}

func TestSaveSectionTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	require.NoError(t, sess.UpdateSection("cocina", kitchen(sess.Document())))
	_, err := sess.SaveSection(ctx, "cocina")
	require.NoError(t, err)
	id := sess.Document().InspectionID
	first, err := h.elements.CountByInspection(ctx, id)
	require.NoError(t, err)

	_, err = sess.SaveSection(ctx, "cocina")
	require.NoError(t, err)
	second, err := h.elements.CountByInspection(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// fotos+videos for two slots, one question, one item.
	assert.Equal(t, 6, second)
}

func TestSaveSectionWithoutCurrent(t *testing.T) {
	h := newHarness(t, 1, 1)
	sess := h.session(t, checklist.KindInitial)

	_, err := sess.SaveSection(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSection)
	_, err = sess.SaveSection(context.Background(), "garaje")
	assert.ErrorIs(t, err, checklist.ErrUnknownSection)
}

func TestSaveDynamicItemProvisionsMissingRoom(t *testing.T) {
	h := newHarness(t, 1, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	// First save provisions a single bedroom zone.
	_, err := sess.SaveSection(ctx, "habitaciones")
	require.NoError(t, err)
	inspectionID := sess.Document().InspectionID
	require.Len(t, h.zonesOfType(t, inspectionID, "dormitorio"), 1)

	def, _ := checklist.SectionByID("habitaciones")
	rooms := sess.Document().Sections["habitaciones"]
	rooms.DynamicCount = 2
	rooms.DynamicItems = append(rooms.DynamicItems, def.NewDynamicItem(2))
	rooms.DynamicItems[0].Questions = []checklist.Question{{ID: "armario-empotrado", Notes: "first room"}}
	rooms.DynamicItems[1].Questions = []checklist.Question{{ID: "armario-empotrado", Notes: "second room"}}
	require.NoError(t, sess.UpdateSection("habitaciones", rooms))

	_, err = sess.SaveSection(ctx, "habitaciones")
	require.NoError(t, err)

	zones := h.zonesOfType(t, inspectionID, "dormitorio")
	require.Len(t, zones, 2)
	assert.Equal(t, "Dormitorio 01", zones[0].ZoneName)
	assert.Equal(t, "Dormitorio 02", zones[1].ZoneName)

	first := h.elementsOf(t, zones[0].ID)["armario-empotrado"]
	second := h.elementsOf(t, zones[1].ID)["armario-empotrado"]
	require.NotNil(t, first.Notes)
	require.NotNil(t, second.Notes)
	assert.Equal(t, "first room", *first.Notes)
	assert.Equal(t, "second room", *second.Notes)
}

func TestSavingFewerRoomsLeavesOtherRoomsIntact(t *testing.T) {
	h := newHarness(t, 2, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	rooms := sess.Document().Sections["habitaciones"]
	require.Len(t, rooms.DynamicItems, 2)
	for i := range rooms.DynamicItems {
		rooms.DynamicItems[i].Questions = []checklist.Question{{ID: "suelo", Status: checklist.StatusGood}}
		rooms.DynamicItems[i].Items = []checklist.CategorizedItem{{ID: "armario", Category: checklist.CategoryStorage, Count: 1}}
	}
	require.NoError(t, sess.UpdateSection("habitaciones", rooms))
	_, err := sess.SaveSection(ctx, "habitaciones")
	require.NoError(t, err)

	// Only the first room is sent, with its wardrobe removed.
	rooms.DynamicItems = rooms.DynamicItems[:1]
	rooms.DynamicItems[0].Items = nil
	require.NoError(t, sess.UpdateSection("habitaciones", rooms))
	_, err = sess.SaveSection(ctx, "habitaciones")
	require.NoError(t, err)

	zones := h.zonesOfType(t, sess.Document().InspectionID, "dormitorio")
	require.Len(t, zones, 2)
	assert.NotContains(t, h.elementsOf(t, zones[0].ID), "almacenamiento-armario")
	second := h.elementsOf(t, zones[1].ID)
	assert.Contains(t, second, "almacenamiento-armario")
	assert.Contains(t, second, "suelo")
}

func TestUpdateRoomCountsResizesLoadedSessions(t *testing.T) {
	h := newHarness(t, 1, 1)
	sess := h.session(t, checklist.KindInitial)

	_, err := h.svc.UpdateRoomCounts(context.Background(), "prop-1", 3, 1)
	require.NoError(t, err)

	rooms := sess.Document().Sections["habitaciones"]
	assert.Equal(t, 3, rooms.DynamicCount)
	require.Len(t, rooms.DynamicItems, 3)
	assert.Equal(t, 3, rooms.DynamicItems[2].Ordinal)
	assert.Equal(t, "general", rooms.DynamicItems[2].UploadSlots[0].ID)

	_, err = h.svc.UpdateRoomCounts(context.Background(), "prop-1", -1, 1)
	assert.Error(t, err)
}

func TestCountBackToZeroDeletesUnitElements(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	salon := sess.Document().Sections["salon"]
	salon.Items = []checklist.CategorizedItem{{ID: "puerta", Category: checklist.CategoryCarpentry, Count: 2,
		Units: []checklist.Unit{{Status: checklist.StatusGood}, {Status: checklist.StatusNeedsRepair}}}}
	require.NoError(t, sess.UpdateSection("salon", salon))
	_, err := sess.SaveSection(ctx, "salon")
	require.NoError(t, err)

	zone := h.zonesOfType(t, sess.Document().InspectionID, "salon")[0]
	assert.Contains(t, h.elementsOf(t, zone.ID), "carpinteria-puerta-2")

	salon.Items[0].Count = 0
	require.NoError(t, sess.UpdateSection("salon", salon))
	_, err = sess.SaveSection(ctx, "salon")
	require.NoError(t, err)

	for name := range h.elementsOf(t, zone.ID) {
		assert.False(t, strings.HasPrefix(name, "carpinteria-"), name)
	}
}

func TestPartialUploadFailureKeepsPendingRef(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	h.objects.failOn = []string{"/bad."}
	sess := h.session(t, checklist.KindInitial)

	sec := sess.Document().Sections["entrada-pasillos"]
	sec.UploadSlots[0].Photos = []checklist.MediaRef{jpeg("good"), jpeg("bad")}
	require.NoError(t, sess.UpdateSection("entrada-pasillos", sec))

	report, err := sess.SaveSection(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.PendingMedia)
	require.Len(t, report.Warnings, 1)
	assert.NotEmpty(t, h.publisher.ofType(events.TypeWarning))

	photos := sess.Document().Sections["entrada-pasillos"].UploadSlots[0].Photos
	require.Len(t, photos, 2)
	assert.True(t, photos[0].Durable())
	assert.Equal(t, "bad", photos[1].ID)
	assert.True(t, photos[1].Pending())

	zone := h.zonesOfType(t, sess.Document().InspectionID, "entrada")[0]
	assert.Len(t, h.elementsOf(t, zone.ID)["fotos-general"].ImageURLs, 1)

	h.objects.heal()
	report, err = sess.SaveSection(ctx, "entrada-pasillos")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Len(t, h.elementsOf(t, zone.ID)["fotos-general"].ImageURLs, 2)
}

func TestUpsertIsRetriedOnce(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	h.elements.failWrites.Store(1)
	_, err := sess.SaveSection(ctx, "salon")
	require.NoError(t, err)

	h.elements.failWrites.Store(2)
	_, err = sess.SaveSection(ctx, "salon")
	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.Equal(t, "salon", saveErr.SectionID)
	assert.True(t, saveErr.Retryable)
	assert.Equal(t, Idle, sess.State())
}

// blockingUploader holds every upload until released.
type blockingUploader struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingUploader) Upload(_ context.Context, _ media.Target, files []media.File) media.Result {
	close(b.started)
	<-b.release
	res := media.Result{Uploaded: make(map[string]media.Uploaded), Failed: make(map[string]error)}
	for _, f := range files {
		res.Failed[f.Ref.ID] = errors.New("released")
	}
	return res
}

func TestConcurrentSaveIsDropped(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	up := &blockingUploader{started: make(chan struct{}), release: make(chan struct{})}
	h.svc.uploader = up
	sess := h.session(t, checklist.KindInitial)

	done := make(chan error, 1)
	go func() {
		_, err := sess.SaveSection(ctx, "salon")
		done <- err
	}()
	<-up.started
	assert.Equal(t, Saving, sess.State())

	_, err := sess.SaveSection(ctx, "cocina")
	assert.ErrorIs(t, err, ErrSaveInProgress)
	_, err = sess.SaveAll(ctx)
	assert.ErrorIs(t, err, ErrSaveInProgress)

	close(up.release)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, sess.State())
}

func TestRefreshKeepsUnsavedSections(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	salon := sess.Document().Sections["salon"]
	salon.Questions = []checklist.Question{{ID: "paredes", Notes: "not saved yet"}}
	require.NoError(t, sess.UpdateSection("salon", salon))

	entrance := sess.Document().Sections["entrada-pasillos"]
	entrance.UploadSlots[0].Photos = []checklist.MediaRef{jpeg("e1")}
	require.NoError(t, sess.UpdateSection("entrada-pasillos", entrance))

	// New media triggers a reload from the store, which has no salon rows.
	report, err := sess.SaveSection(ctx, "entrada-pasillos")
	require.NoError(t, err)
	require.Equal(t, 1, report.Uploaded)
	lists := h.elements.lists.Load()
	assert.NotZero(t, lists)

	doc := sess.Document()
	require.Len(t, doc.Sections["salon"].Questions, 1)
	assert.Equal(t, "not saved yet", doc.Sections["salon"].Questions[0].Notes)
	assert.True(t, doc.Sections["entrada-pasillos"].UploadSlots[0].Photos[0].Durable())
}

func TestSaveWithoutNewMediaSkipsReload(t *testing.T) {
	h := newHarness(t, 0, 0)
	sess := h.session(t, checklist.KindInitial)
	before := h.elements.lists.Load()

	_, err := sess.SaveSection(context.Background(), "salon")
	require.NoError(t, err)
	assert.Equal(t, before, h.elements.lists.Load())
}

func TestSaveAllReloadsOnce(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()
	sess := h.session(t, checklist.KindInitial)

	require.NoError(t, sess.UpdateSection("cocina", kitchen(sess.Document())))
	salon := sess.Document().Sections["salon"]
	salon.UploadSlots[1].Photos = []checklist.MediaRef{jpeg("s1")}
	require.NoError(t, sess.UpdateSection("salon", salon))
	before := h.elements.lists.Load()

	reports, err := sess.SaveAll(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 8)
	assert.Equal(t, before+1, h.elements.lists.Load())

	doc := sess.Document()
	assert.True(t, doc.Sections["cocina"].UploadSlots[0].Photos[0].Durable())
	assert.True(t, doc.Sections["salon"].UploadSlots[1].Photos[0].Durable())
	assert.Equal(t, "damp", doc.Sections["cocina"].Questions[0].Notes)
}

func TestStageSectionAppliesAtNextSave(t *testing.T) {
	h := newHarness(t, 0, 0)
	sess := h.session(t, checklist.KindInitial)
	sess.debounce.delay = time.Hour

	salon := sess.Document().Sections["salon"]
	salon.Questions = []checklist.Question{{ID: "paredes", Notes: "draft 1"}}
	require.NoError(t, sess.StageSection("salon", salon))
	salon.Questions[0].Notes = "draft 2"
	require.NoError(t, sess.StageSection("salon", salon))

	assert.Empty(t, sess.Document().Sections["salon"].Questions)
	assert.Equal(t, 1, sess.debounce.Pending())

	_, err := sess.SaveSection(context.Background(), "")
	require.NoError(t, err)

	zone := h.zonesOfType(t, sess.Document().InspectionID, "salon")[0]
	assert.Equal(t, "draft 2", *h.elementsOf(t, zone.ID)["paredes"].Notes)
}

func TestStageSectionAppliesAfterQuiet(t *testing.T) {
	h := newHarness(t, 0, 0)
	sess := h.session(t, checklist.KindInitial)

	salon := sess.Document().Sections["salon"]
	salon.Questions = []checklist.Question{{ID: "paredes", Notes: "typed"}}
	require.NoError(t, sess.StageSection("salon", salon))

	require.Eventually(t, func() bool {
		return len(sess.Document().Sections["salon"].Questions) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFinalizeRequiresZones(t *testing.T) {
	h := newHarness(t, 0, 0)
	sess := h.session(t, checklist.KindFinal)

	ok, err := sess.Finalize(context.Background(), nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotProvisioned)
	assert.Empty(t, h.notifier.finalized)
}

func TestFinalize(t *testing.T) {
	h := newHarness(t, 1, 1)
	ctx := context.Background()
	sess := h.session(t, checklist.KindFinal)

	require.NoError(t, sess.UpdateSection("cocina", kitchen(sess.Document())))
	_, err := sess.SaveSection(ctx, "cocina")
	require.NoError(t, err)

	ok, err := sess.Finalize(ctx, map[string]any{"tenant": "Ana"})
	require.NoError(t, err)
	assert.True(t, ok)

	in, err := store.NewInspectionStore(h.db).GetByProperty(ctx, "prop-1", "final")
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionFinalized, in.Status)
	assert.Equal(t, "Ana", in.Extra["tenant"])

	require.Len(t, h.notifier.finalized, 1)
	assert.Positive(t, h.notifier.finalized[0].ElementCount)
	assert.NotEmpty(t, h.publisher.ofType(events.TypeFinalized))
}

func TestFinalizeNotifierFailureIsOnlyAWarning(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindFinal)
	_, err := sess.SaveSection(ctx, "salon")
	require.NoError(t, err)

	h.notifier.err = errors.New("workflow service down")
	ok, err := sess.Finalize(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, h.publisher.ofType(events.TypeWarning))
}

func TestFinalizeFailsWhenNothingPersisted(t *testing.T) {
	h := newHarness(t, 0, 0)
	ctx := context.Background()
	sess := h.session(t, checklist.KindFinal)

	h.elements.dropWrites = true
	salon := sess.Document().Sections["salon"]
	salon.Questions = []checklist.Question{{ID: "paredes", Status: checklist.StatusGood}}
	require.NoError(t, sess.UpdateSection("salon", salon))
	_, err := sess.SaveSection(ctx, "salon")
	require.NoError(t, err)

	ok, err := sess.Finalize(ctx, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNothingPersisted)

	in, err := store.NewInspectionStore(h.db).GetByProperty(ctx, "prop-1", "final")
	require.NoError(t, err)
	assert.Equal(t, domain.InspectionDraft, in.Status)
	assert.Empty(t, h.notifier.finalized)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
