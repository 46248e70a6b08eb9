// Package supervisor wires up the suture supervisor tree that restarts the
// ingester's long-running services (in watch mode, cmd/ingestd adds the
// ingestion loop and the admin HTTP server) on crash instead of letting a
// panic or an unrecovered error take the whole process down. The stream
// reader goroutine and the token refresh loop are started as plain
// goroutines inside each ingestion pass, not as services of the tree.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig tunes the restart-backoff behavior shared by every supervisor
// in the tree.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's own recommended defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is a two-layer supervisor: a "transport" layer for the ingestion
// loop that opens the stream (a service whose crash should trigger a full
// reconnect, never a resume), and an "admin" layer for the
// observability HTTP server (independent failure domain — a crash in the
// admin surface must never interrupt ingestion).
type Tree struct {
	root      *suture.Supervisor
	transport *suture.Supervisor
	admin     *suture.Supervisor
}

// New builds a Tree logging suture's lifecycle events through logger.
func New(logger *slog.Logger, cfg TreeConfig) *Tree {
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("ingestcore", rootSpec)
	transport := suture.New("transport", childSpec)
	admin := suture.New("admin", childSpec)

	root.Add(transport)
	root.Add(admin)

	return &Tree{root: root, transport: transport, admin: admin}
}

// AddTransportService adds svc to the transport layer.
func (t *Tree) AddTransportService(svc suture.Service) suture.ServiceToken {
	return t.transport.Add(svc)
}

// AddAdminService adds svc to the admin layer.
func (t *Tree) AddAdminService(svc suture.Service) suture.ServiceToken {
	return t.admin.Add(svc)
}

// Serve starts the tree and blocks until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
