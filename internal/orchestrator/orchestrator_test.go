package orchestrator_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/vaultline/ingestcore/internal/config"
	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/orchestrator"
)

func testLogger() *logger.Logger {
	return logger.New(zerolog.Disabled, nil)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// newAuthServer fakes the two-step login flow: any phone/PIN succeeds, any
// OTP succeeds, and every subsequent refresh mints a new session cookie
// (the refresh cookie is not rotated).
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	var refreshCount int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/web/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"processId":"proc-1"}`)
	})
	mux.HandleFunc("/auth/web/login/proc-1/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "tr_session", Value: "sess-1"})
		http.SetCookie(w, &http.Cookie{Name: "tr_refresh", Value: "refresh-1"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/auth/web/session", func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		http.SetCookie(w, &http.Cookie{Name: "tr_session", Value: fmt.Sprintf("sess-%d", refreshCount+1)})
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newStreamServer replies "connected" then serves pages in order.
func newStreamServer(t *testing.T, pages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage() // connect
		conn.WriteMessage(websocket.TextMessage, []byte("connected"))

		for _, page := range pages {
			_, subMsg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fields := strings.Fields(string(subMsg))
			if len(fields) < 2 || fields[0] != "sub" {
				t.Errorf("expected sub frame, got %q", subMsg)
				return
			}
			conn.WriteMessage(websocket.TextMessage, []byte(fields[1]+" A "+page))
			conn.ReadMessage() // unsub
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, authURL, streamURL string) *config.Config {
	cfg := config.Default()
	cfg.AuthBaseURL = authURL
	cfg.StreamURL = wsURL(streamURL)
	cfg.Origin = "https://example.com"
	cfg.TokenFilePath = filepath.Join(t.TempDir(), "tokens.json")
	cfg.HandshakeDeadline = time.Second
	cfg.AwaitInitialDeadline = time.Second
	cfg.RefreshCheckInterval = 0
	cfg.ClassifyWorkers = 0
	return cfg
}

func TestRunOnceLogsInDrainsAndClassifies(t *testing.T) {
	authSrv := newAuthServer(t)
	streamSrv := newStreamServer(t, []string{
		`{"items":[{"id":"1","eventType":"card_successful_transaction","amount":{"value":-5,"currency":"EUR"}}],"cursors":{"after":null}}`,
	})

	cfg := testConfig(t, authSrv.URL, streamSrv.URL)
	orch := orchestrator.New(cfg, testLogger(), nil, authSrv.Client())

	creds := orchestrator.Credentials{
		PhoneNumber: "+155501234",
		PIN:         "1234",
		ReadOTP: func(ctx context.Context, processID string) (string, error) {
			return "000000", nil
		},
	}

	txns, err := orch.RunOnce(context.Background(), creds)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("txns: got %d, want 1", len(txns))
	}
	if txns[0].ID != "1" {
		t.Errorf("txn id: got %q, want 1", txns[0].ID)
	}

	snap := orch.Snapshot()
	if snap.PagesFetched != 1 {
		t.Errorf("PagesFetched: got %d, want 1", snap.PagesFetched)
	}
	if snap.StreamState != "ready" {
		t.Errorf("StreamState: got %q, want ready", snap.StreamState)
	}
}

func TestRunOnceFailsWithoutOTPReaderAndNoPersistedSession(t *testing.T) {
	authSrv := newAuthServer(t)
	streamSrv := newStreamServer(t, nil)

	cfg := testConfig(t, authSrv.URL, streamSrv.URL)
	orch := orchestrator.New(cfg, testLogger(), nil, authSrv.Client())

	_, err := orch.RunOnce(context.Background(), orchestrator.Credentials{PhoneNumber: "+1", PIN: "1"})
	if err == nil {
		t.Fatal("RunOnce: got nil error, want failure with no persisted session and no OTP reader")
	}
}
