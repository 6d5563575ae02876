package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/dgnsrekt/feedsync/internal/delta"
	"github.com/dgnsrekt/feedsync/internal/session"
	"github.com/dgnsrekt/feedsync/internal/state"
)

type fakeSource struct {
	statuses []session.ChannelStatus
}

func (f *fakeSource) Status(ctx context.Context) ([]session.ChannelStatus, error) {
	return f.statuses, nil
}

func newTestRouter(t *testing.T) (http.Handler, *state.Store) {
	t.Helper()
	store := state.NewStore(zap.NewNop())
	store.Apply("news", delta.Update{Op: delta.OpPut, Key: "a", Value: json.RawMessage(`{"v":1}`)})
	store.SetPts("news", 7)

	source := &fakeSource{statuses: []session.ChannelStatus{
		{Channel: "news", Pts: 7, Entries: 1},
	}}

	srv := NewServer(source, store, nil, zap.NewNop())
	router, err := NewRouter(srv, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return router, store
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var statuses []session.ChannelStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Channel != "news" || statuses[0].Pts != 7 {
		t.Errorf("unexpected statuses: %+v", statuses)
	}
}

func TestChannelEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels/news", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var snap state.ChannelSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if snap.Pts != 7 || len(snap.Entries) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestChannelEndpoint_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEntryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels/news/entries/a", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"v":1}` {
		t.Errorf("body = %s, want {\"v\":1}", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels/news/entries/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestValidatorRejectsUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/bogus", nil))

	if rec.Code == http.StatusOK {
		t.Error("unknown route should not return 200")
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("document body should not be empty")
	}
}
