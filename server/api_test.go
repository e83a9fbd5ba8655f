package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "correct horse battery staple"

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	app *app
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	cfg := defaultConfig()
	cfg.DatabaseURL = ":memory:"
	for _, f := range mutate {
		f(&cfg)
	}
	store := newTestStore(t)
	bus := NewEventBus()
	metrics := NewMetrics()
	log := discardLogger()
	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		bus:     bus,
		metrics: metrics,
		matrix:  NewMatrix(store, log, WithMaxLists(cfg.MaxLists), WithEvents(bus), WithMetrics(metrics), WithClock(newStepClock().Now)),
	}
	srv := httptest.NewServer(newHandler(a))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, app: a}
}

func (ts *testServer) do(method, path string, body any, hdr ...string) *http.Response {
	ts.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) createList() string {
	ts.t.Helper()
	resp := ts.do("POST", "/api/lists", nil)
	require.Equal(ts.t, 201, resp.StatusCode)
	out := decode[struct {
		ListID string `json:"listId"`
		List   List   `json:"list"`
	}](ts.t, resp)
	require.Equal(ts.t, out.ListID, out.List.ListID)
	return out.ListID
}

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do("GET", "/api/health", nil)
	require.Equal(t, 200, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["ok"])
}

func TestAPI_CreateListSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do("POST", "/api/lists", nil)
	require.Equal(t, 201, resp.StatusCode)
	out := decode[map[string]any](t, resp)

	var sess *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == ts.app.cfg.SessionCookieName {
			sess = c
		}
	}
	require.NotNil(t, sess)
	assert.Equal(t, out["listId"], sess.Value)
	assert.True(t, sess.HttpOnly)

	last := ts.do("GET", "/api/session/last-list", nil, "Cookie", sess.Name+"="+sess.Value)
	require.Equal(t, 200, last.StatusCode)
	assert.Equal(t, out["listId"], decode[map[string]any](t, last)["listId"])

	gone := ts.do("GET", "/api/session/last-list", nil, "Cookie", sess.Name+"=deleted-list")
	assert.Nil(t, decode[map[string]any](t, gone)["listId"])
}

func TestAPI_CreateListRateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.CreateListRate = 2 })
	ts.createList()
	ts.createList()
	resp := ts.do("POST", "/api/lists", nil)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestAPI_ListLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()

	resp := ts.do("GET", "/api/lists/"+id, nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Impact", decode[List](t, resp).XAxisLabel)

	resp = ts.do("PATCH", "/api/lists/"+id+"/matrix-settings", map[string]any{"xAxisLabel": "Value"})
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Value", decode[MatrixSettings](t, resp).XAxisLabel)

	resp = ts.do("PATCH", "/api/lists/"+id, map[string]any{"color": "red"})
	assert.Equal(t, 400, resp.StatusCode, "unknown fields are rejected")

	resp = ts.do("PATCH", "/api/lists/"+id, map[string]any{"yAxisLabel": ""})
	require.Equal(t, 400, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Contains(t, body["errors"], "yAxisLabel")

	resp = ts.do("DELETE", "/api/lists/"+id, nil)
	assert.Equal(t, 204, resp.StatusCode)
	resp = ts.do("DELETE", "/api/lists/"+id, nil)
	assert.Equal(t, 404, resp.StatusCode)
	resp = ts.do("GET", "/api/lists/"+id, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestAPI_CreateItemEmptyText(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()

	resp := ts.do("POST", "/api/lists/"+id+"/todo-items", map[string]any{"text": ""})
	require.Equal(t, 400, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "invalid payload", body["message"])
	assert.Contains(t, body["errors"], "text")
}

func TestAPI_PatchMissingItem(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()
	resp := ts.do("PATCH", "/api/lists/"+id+"/todo-items/999999", map[string]any{"text": "x"})
	assert.Equal(t, 404, resp.StatusCode)

	resp = ts.do("PATCH", "/api/lists/"+id+"/todo-items/abc", map[string]any{"text": "x"})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestAPI_ItemFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()
	base := "/api/lists/" + id + "/todo-items"

	resp := ts.do("POST", base, map[string]any{
		"text":     "Buy milk",
		"position": map[string]any{"x": 0.2, "y": 0.3, "quadrant": "high-urgency-low-impact"},
	})
	require.Equal(t, 201, resp.StatusCode)
	milk := decode[TodoItem](t, resp)
	assert.Equal(t, 1, milk.Number)

	resp = ts.do("POST", base, map[string]any{"text": "Call dentist"})
	require.Equal(t, 201, resp.StatusCode)
	dentist := decode[TodoItem](t, resp)

	resp = ts.do("PATCH", fmt.Sprintf("%s/%d", base, milk.ID), map[string]any{"completed": true})
	require.Equal(t, 200, resp.StatusCode)
	done := decode[TodoItem](t, resp)
	assert.Nil(t, done.Position)
	require.NotNil(t, done.LastPosition)

	resp = ts.do("PATCH", fmt.Sprintf("%s/%d", base, dentist.ID), `{"position": null}`)
	require.Equal(t, 200, resp.StatusCode)

	resp = ts.do("POST", base+"/reorder", map[string]any{"draggedId": dentist.ID})
	assert.Equal(t, 400, resp.StatusCode)
	resp = ts.do("POST", base+"/reorder", map[string]any{"draggedId": dentist.ID, "targetNumber": dentist.Number})
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, decode[map[string]any](t, resp)["success"])

	resp = ts.do("DELETE", base+"/completed", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 1, decode[map[string]any](t, resp)["deleted"])

	resp = ts.do("POST", base+"/clear-matrix", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 0, decode[map[string]any](t, resp)["cleared"])

	resp = ts.do("GET", base, nil)
	require.Equal(t, 200, resp.StatusCode)
	items := decode[[]TodoItem](t, resp)
	require.Len(t, items, 1)
	assert.Equal(t, "Call dentist", items[0].Text)

	resp = ts.do("DELETE", fmt.Sprintf("%s/%d", base, dentist.ID), nil)
	assert.Equal(t, 204, resp.StatusCode)
	resp = ts.do("DELETE", fmt.Sprintf("%s/%d", base, dentist.ID), nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestAPI_CapacityIsGenericFailure(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()
	for i := 0; i < MaxItemNumber; i++ {
		_, err := ts.app.matrix.CreateItem(t.Context(), id, NewItem{Text: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}
	resp := ts.do("POST", "/api/lists/"+id+"/todo-items", map[string]any{"text": "overflow"})
	require.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "Failed to create todo item", decode[map[string]any](t, resp)["message"])
}

func TestAPI_ExportList(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()
	ts.do("POST", "/api/lists/"+id+"/todo-items", map[string]any{"text": "a"})

	resp := ts.do("GET", "/api/lists/"+id+"/export", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "priority-matrix.json")
	exp := decode[ListExport](t, resp)
	assert.Equal(t, id, exp.List.ListID)
	assert.Len(t, exp.TodoItems, 1)
}

func TestAPI_BackupRequiresAdminToken(t *testing.T) {
	closed := newTestServer(t)
	assert.Equal(t, 403, closed.do("GET", "/api/backup/export", nil).StatusCode)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, func(c *Config) { c.BackupTokenHash = string(hash) })

	assert.Equal(t, 401, ts.do("GET", "/api/backup/export", nil).StatusCode)
	assert.Equal(t, 403, ts.do("GET", "/api/backup/export", nil, "X-Admin-Token", "wrong").StatusCode)

	id := ts.createList()
	ts.do("POST", "/api/lists/"+id+"/todo-items", map[string]any{"text": "keep"})

	resp := ts.do("GET", "/api/backup/export", nil, "X-Admin-Token", testAdminToken)
	require.Equal(t, 200, resp.StatusCode)
	snapshot := decode[Backup](t, resp)
	require.Len(t, snapshot.Lists, 1)
	require.Len(t, snapshot.TodoItems, 1)

	// wipe by deleting, then restore
	ts.do("DELETE", "/api/lists/"+id, nil)
	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)
	resp = ts.do("POST", "/api/backup/import", string(raw), "X-Admin-Token", testAdminToken)
	require.Equal(t, 200, resp.StatusCode)

	resp = ts.do("GET", "/api/lists/"+id+"/todo-items", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Len(t, decode[[]TodoItem](t, resp), 1)

	resp = ts.do("POST", "/api/backup/import", `{"version":"2.0"}`, "X-Admin-Token", testAdminToken)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestAPI_EventsMissingList(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, 404, ts.do("GET", "/api/lists/nope/events", nil).StatusCode)
}

func TestAPI_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.createList()
	resp := ts.do("GET", "/metrics", nil)
	require.Equal(t, 200, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "priomatrix_lists_created_total 1")
	assert.Contains(t, buf.String(), `route="POST /api/lists"`)
}

func TestAPI_PartialPositionRejected(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createList()
	base := "/api/lists/" + id + "/todo-items"

	resp := ts.do("POST", base, `{"text":"half","position":{"x":0.4,"quadrant":"high-urgency-high-impact"}}`)
	require.Equal(t, 400, resp.StatusCode)
	assert.Contains(t, decode[map[string]any](t, resp)["errors"], "position")

	resp = ts.do("POST", base, map[string]any{"text": "whole"})
	require.Equal(t, 201, resp.StatusCode)
	it := decode[TodoItem](t, resp)

	resp = ts.do("PATCH", fmt.Sprintf("%s/%d", base, it.ID), `{"position":{"y":0.4}}`)
	require.Equal(t, 400, resp.StatusCode)

	resp = ts.do("GET", base, nil)
	items := decode[[]TodoItem](t, resp)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].Position)
}
