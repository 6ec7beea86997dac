package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/checklistsync/internal/checklist"
	"github.com/vbonduro/checklistsync/internal/db"
	"github.com/vbonduro/checklistsync/internal/events"
	"github.com/vbonduro/checklistsync/internal/media"
	"github.com/vbonduro/checklistsync/internal/notify"
	"github.com/vbonduro/checklistsync/internal/objectstore/local"
	"github.com/vbonduro/checklistsync/internal/provision"
	"github.com/vbonduro/checklistsync/internal/service"
	"github.com/vbonduro/checklistsync/internal/store"
	"github.com/vbonduro/checklistsync/internal/web"
)

// minimalJPEG starts with the JPEG magic bytes; it is not decodable, so it
// is stored unchanged.
var minimalJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

type testEnv struct {
	server *httptest.Server
	hub    *events.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	objects, err := local.NewLocalStore(t.TempDir(), "/media")
	require.NoError(t, err)

	hub := events.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := service.NewChecklistService(
		service.Repositories{
			Properties:  store.NewPropertyStore(database),
			Inspections: store.NewInspectionStore(database),
			Zones:       store.NewZoneStore(database),
			Elements:    store.NewElementStore(database),
		},
		media.NewCorrelator(objects, media.Options{}, logger),
		notify.NewLogNotifier(logger),
		hub,
		service.Options{Provision: provision.Options{MaxAttempts: 2, Backoff: time.Millisecond}},
		logger,
	)
	t.Cleanup(svc.Close)

	server := httptest.NewServer(web.NewServer(svc, hub, objects, logger))
	t.Cleanup(server.Close)
	return &testEnv{server: server, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func kitchenSection() map[string]any {
	return map[string]any{
		"uploadSlots": []map[string]any{
			{"id": "general", "photos": []map[string]any{{"id": "k1", "mimeType": "image/jpeg", "data": minimalJPEG}}},
			{"id": "electrodomesticos"},
		},
		"questions": []map[string]any{
			{"id": "paredes", "status": "needs-repair", "notes": "damp", "badElements": []string{"window"}},
		},
	}
}

func TestPutProperty(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": 2, "bathrooms": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]any](t, resp)
	assert.Equal(t, "prop-1", got["id"])
	assert.EqualValues(t, 2, got["bedrooms"])

	resp = env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": -1, "bathrooms": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetChecklist(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": 2, "bathrooms": 1})

	resp := env.do(t, http.MethodGet, "/checklists/prop-1/initial", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	doc := decode[checklist.Document](t, resp)
	assert.Equal(t, checklist.KindInitial, doc.Kind)
	assert.Zero(t, doc.InspectionID)
	assert.Len(t, doc.Sections, 8)
	assert.Len(t, doc.Sections["habitaciones"].DynamicItems, 2)

	resp = env.do(t, http.MethodGet, "/checklists/prop-1/midterm", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPutSectionErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/checklists/prop-1/initial/sections/garaje", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/checklists/prop-1/initial/sections/cocina", map[string]any{
		"questions": []map[string]any{{"id": "fotos-general"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/checklists/prop-1/initial/sections/cocina", map[string]any{"unknownField": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/checklists/prop-1/initial/save", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveServesDurableMedia(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": 1, "bathrooms": 1})

	resp := env.do(t, http.MethodPut, "/checklists/prop-1/initial/sections/cocina", kitchenSection())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/checklists/prop-1/initial/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[service.SaveReport](t, resp)
	assert.Equal(t, "cocina", report.SectionID)
	assert.Equal(t, 1, report.Uploaded)

	resp = env.do(t, http.MethodGet, "/checklists/prop-1/initial?reload=1", nil)
	doc := decode[checklist.Document](t, resp)
	photo := doc.Sections["cocina"].UploadSlots[0].Photos[0]
	assert.Equal(t, "k1", photo.ID)
	require.True(t, strings.HasPrefix(photo.URL, "/media/prop-1/"), photo.URL)
	assert.Empty(t, photo.Data)

	resp = env.do(t, http.MethodGet, photo.URL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalJPEG, body)

	resp = env.do(t, http.MethodGet, "/media/prop-1/none.jpg", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/checklists/prop-1/initial/save", map[string]string{"section": "garaje"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDebouncedPutIsAccepted(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/checklists/prop-1/initial/sections/salon?debounce=1", map[string]any{
		"questions": []map[string]any{{"id": "paredes", "notes": "typing"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/checklists/prop-1/initial/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "salon", decode[service.SaveReport](t, resp).SectionID)
}

func TestSaveAllAndFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/properties/prop-1", map[string]int{"bedrooms": 1, "bathrooms": 1})

	resp := env.do(t, http.MethodPost, "/checklists/prop-1/final/finalize", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	env.do(t, http.MethodPut, "/checklists/prop-1/final/sections/cocina", kitchenSection())
	resp = env.do(t, http.MethodPost, "/checklists/prop-1/final/save-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[struct {
		Reports []service.SaveReport `json:"reports"`
	}](t, resp)
	assert.Len(t, all.Reports, 8)

	resp = env.do(t, http.MethodPost, "/checklists/prop-1/final/finalize", map[string]any{
		"fields": map[string]any{"tenant": "Ana"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]bool{"finalized": true}, decode[map[string]bool](t, resp))
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/checklists/prop-1/initial/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodGet, "/checklists/prop-1/initial", nil)
	resp := env.do(t, http.MethodPost, "/checklists/prop-1/initial/save", map[string]string{"section": "salon"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []events.Type
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev events.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		assert.Equal(t, "prop-1", ev.PropertyID)
		types = append(types, ev.Type)
		if ev.Type == events.TypeSectionSaved {
			break
		}
	}
	assert.Equal(t, events.TypeState, types[0])
}
