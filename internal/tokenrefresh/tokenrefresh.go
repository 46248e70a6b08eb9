// Package tokenrefresh runs a background loop that periodically renews the
// opaque session token before it can expire server-side.
//
// Because both the session and refresh tokens are opaque (spec declares
// neither is a JWT with a readable expiry claim), this cannot check "is the
// token about to expire" the way a JWT-aware refresher would; instead it
// refreshes unconditionally on a fixed interval, the closest opaque-token
// analogue of "refresh before expiry".
package tokenrefresh

import (
	"context"
	"sync"
	"time"

	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/tokenstore"
)

// Refresher exchanges a refresh token for a fresh TokenPair. *auth.Client
// satisfies this.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error)
}

// Scheduler owns the current token pair and periodically refreshes it,
// persisting the result through Store and notifying OnRefresh of the new
// pair so callers (e.g. the stream dialer) pick it up for their next
// connection attempt.
type Scheduler struct {
	refresher Refresher
	store     *tokenstore.Store
	interval  time.Duration
	log       *logger.Logger
	metrics   *metrics.Registry

	mu      sync.RWMutex
	current tokenstore.TokenPair

	onRefresh func(tokenstore.TokenPair)

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Scheduler seeded with the current token pair.
func New(refresher Refresher, store *tokenstore.Store, interval time.Duration, log *logger.Logger, m *metrics.Registry, initial tokenstore.TokenPair) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		store:     store,
		interval:  interval,
		log:       log,
		metrics:   m,
		current:   initial,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// OnRefresh registers a callback invoked with every newly-minted token pair.
// Must be called before Serve.
func (s *Scheduler) OnRefresh(fn func(tokenstore.TokenPair)) {
	s.onRefresh = fn
}

// Current returns the most recently known-good token pair.
func (s *Scheduler) Current() tokenstore.TokenPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Serve runs the refresh loop until the supplied context is cancelled or
// Stop is called. It implements suture.Service so it can be supervised.
func (s *Scheduler) Serve(ctx context.Context) error {
	defer close(s.doneCh)
	if s.interval <= 0 {
		select {
		case <-ctx.Done():
		case <-s.stopCh:
		}
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *Scheduler) refreshOnce(ctx context.Context) {
	s.mu.RLock()
	refreshToken := s.current.Refresh
	s.mu.RUnlock()

	tp, err := s.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RefreshFailures.Inc()
		}
		if s.log != nil {
			s.log.ErrorErr("tokenrefresh: refresh failed", err)
		}
		return
	}

	s.mu.Lock()
	s.current = tp
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Refreshes.Inc()
	}
	if err := s.store.Save(tp); err != nil && s.log != nil {
		s.log.ErrorErr("tokenrefresh: save token pair failed", err)
	}
	if s.onRefresh != nil {
		s.onRefresh(tp)
	}
}

// Stop ends the refresh loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
