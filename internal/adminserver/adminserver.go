// Package adminserver exposes the ingester's own operational state over
// HTTP: liveness, Prometheus metrics, a status snapshot, and a
// Server-Sent-Events stream of newly classified transactions. This is
// observability into the core's own operation, not the reporting/analytics
// surface the system is explicitly scoped to exclude.
package adminserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vaultline/ingestcore/internal/classify"
)

// StatusSnapshot is the JSON body served at /api/status.
type StatusSnapshot struct {
	PagesFetched     int64          `json:"pages_fetched"`
	ItemsByCategory  map[string]int64 `json:"items_by_category"`
	LastCursor       string         `json:"last_cursor"`
	ReconnectCount   int64          `json:"reconnect_count"`
	LastRefreshedAt  *time.Time     `json:"last_refreshed_at,omitempty"`
	StreamState      string         `json:"stream_state"`
}

// StatusProvider supplies the current snapshot on demand; the orchestrator
// implements this over its own live counters.
type StatusProvider interface {
	Snapshot() StatusSnapshot
}

// Server is the admin HTTP surface.
type Server struct {
	router   chi.Router
	provider StatusProvider
	events   *broadcaster
}

// New builds a Server. It does not listen on its own; serve the router via
// Handler (with an *http.Server, or directly in tests).
func New(provider StatusProvider) *Server {
	s := &Server{provider: provider, events: newBroadcaster()}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/events/stream", s.handleEventsStream)

	s.router = r
	return s
}

// Handler returns the http.Handler backing this server, for use with an
// existing *http.Server or in tests.
func (s *Server) Handler() http.Handler { return s.router }

// Publish broadcasts a newly classified transaction to every connected SSE
// client. Non-blocking: a client whose buffer is full misses this event
// rather than being allowed to back-pressure classification.
func (s *Server) Publish(txn classify.NormalizedTxn) {
	s.events.publish(txn)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.events.subscribe()
	defer s.events.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case txn, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(txn)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// broadcaster fans out published transactions to every active SSE
// subscriber, dropping delivery to any subscriber whose channel is full
// rather than blocking the publisher.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan classify.NormalizedTxn]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan classify.NormalizedTxn]struct{})}
}

func (b *broadcaster) subscribe() chan classify.NormalizedTxn {
	ch := make(chan classify.NormalizedTxn, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan classify.NormalizedTxn) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *broadcaster) publish(txn classify.NormalizedTxn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- txn:
		default:
		}
	}
}
