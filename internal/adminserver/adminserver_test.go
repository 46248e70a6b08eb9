package adminserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vaultline/ingestcore/internal/adminserver"
	"github.com/vaultline/ingestcore/internal/classify"
)

type fakeProvider struct {
	snap adminserver.StatusSnapshot
}

func (f fakeProvider) Snapshot() adminserver.StatusSnapshot { return f.snap }

func TestHealthzReturnsOK(t *testing.T) {
	srv := adminserver.New(fakeProvider{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestStatusServesSnapshotAsJSON(t *testing.T) {
	want := adminserver.StatusSnapshot{
		PagesFetched:    12,
		ItemsByCategory: map[string]int64{"card": 3},
		StreamState:     "ready",
	}
	srv := adminserver.New(fakeProvider{snap: want})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var got adminserver.StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.PagesFetched != want.PagesFetched || got.StreamState != want.StreamState {
		t.Errorf("snapshot: got %+v, want %+v", got, want)
	}
}

func TestMetricsEndpointIsServed(t *testing.T) {
	srv := adminserver.New(fakeProvider{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
}

func TestPublishDoesNotBlockWithoutSubscribers(t *testing.T) {
	srv := adminserver.New(fakeProvider{})
	// No SSE client connected; Publish must not block or panic.
	srv.Publish(classify.NormalizedTxn{ID: "tx1", Category: classify.CategoryCard})
}
