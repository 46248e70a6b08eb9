// Package orchestrator wires every component together into the end-to-end
// flow: restore-or-login, open the stream, paginate the timeline,
// classify, and emit — once per invocation, or continuously in watch mode.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vaultline/ingestcore/internal/adminserver"
	"github.com/vaultline/ingestcore/internal/auth"
	"github.com/vaultline/ingestcore/internal/classify"
	"github.com/vaultline/ingestcore/internal/config"
	"github.com/vaultline/ingestcore/internal/lock"
	"github.com/vaultline/ingestcore/internal/logger"
	"github.com/vaultline/ingestcore/internal/metrics"
	"github.com/vaultline/ingestcore/internal/schemadrift"
	"github.com/vaultline/ingestcore/internal/streammux"
	"github.com/vaultline/ingestcore/internal/timeline"
	"github.com/vaultline/ingestcore/internal/tokenrefresh"
	"github.com/vaultline/ingestcore/internal/tokenstore"
	"github.com/vaultline/ingestcore/internal/workerpool"
)

// Credentials carries the phone number and PIN used to start a fresh login,
// plus a way to obtain the OTP once the server has sent it.
type Credentials struct {
	PhoneNumber string
	PIN         string
	ReadOTP     func(ctx context.Context, processID string) (string, error)
}

// Orchestrator owns every long-lived component and drives one (or,
// in watch mode, repeated) full drain of the timeline.
type Orchestrator struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Registry

	authClient *auth.Client
	store      *tokenstore.Store
	locks      *lock.Keyed
	admin      *adminserver.Server

	pagesFetched    int64
	reconnectCount  int64
	lastCursor      atomic.Value // string
	lastRefreshedAt atomic.Value // time.Time
	streamState     atomic.Value // string
	itemCounts      itemCounters
}

// New constructs an Orchestrator. httpClient is the tuned client used for
// every HTTP request the auth client makes.
func New(cfg *config.Config, log *logger.Logger, m *metrics.Registry, httpClient *http.Client) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		authClient: auth.New(httpClient, cfg.AuthBaseURL, cfg.UserAgent),
		store:      tokenstore.New(cfg.TokenFilePath, lock.NewKeyed()),
		locks:      lock.NewKeyed(),
	}
	o.lastCursor.Store("")
	o.streamState.Store("disconnected")
	o.admin = adminserver.New(o)
	return o
}

// AdminHandler exposes the admin HTTP surface for cmd/ingestd to serve.
func (o *Orchestrator) AdminHandler() http.Handler { return o.admin.Handler() }

// Snapshot implements adminserver.StatusProvider.
func (o *Orchestrator) Snapshot() adminserver.StatusSnapshot {
	snap := adminserver.StatusSnapshot{
		PagesFetched:    atomic.LoadInt64(&o.pagesFetched),
		ReconnectCount:  atomic.LoadInt64(&o.reconnectCount),
		ItemsByCategory: o.itemCounts.snapshot(),
		StreamState:     o.streamState.Load().(string),
	}
	if c, ok := o.lastCursor.Load().(string); ok {
		snap.LastCursor = c
	}
	if t, ok := o.lastRefreshedAt.Load().(time.Time); ok {
		snap.LastRefreshedAt = &t
	}
	return snap
}

// ensureAuthenticated restores a persisted token pair, or runs the full
// login+OTP flow if none exists or the persisted refresh token has expired.
func (o *Orchestrator) ensureAuthenticated(ctx context.Context, creds Credentials) (tokenstore.TokenPair, error) {
	o.locks.Lock(o.cfg.TokenFilePath)
	defer o.locks.Unlock(o.cfg.TokenFilePath)

	tp, err := o.store.Load()
	if err == nil {
		refreshed, rerr := o.authClient.Refresh(ctx, tp.Refresh)
		if rerr == nil {
			if err := o.store.Save(refreshed); err != nil {
				o.log.ErrorErr("orchestrator: save refreshed token pair failed", err)
			}
			return refreshed, nil
		}
		var authErr *auth.Error
		if !errors.As(rerr, &authErr) || authErr.Kind != auth.KindRefreshExpired {
			return tokenstore.TokenPair{}, fmt.Errorf("orchestrator: restore session: %w", rerr)
		}
		o.log.Warn("orchestrator: persisted refresh token expired, starting fresh login")
	} else if !errors.Is(err, tokenstore.ErrNotExist) {
		o.log.ErrorErr("orchestrator: load token file failed", err)
	}

	if creds.ReadOTP == nil {
		return tokenstore.TokenPair{}, fmt.Errorf("orchestrator: no persisted session and no OTP reader supplied")
	}

	processID, err := o.authClient.Login(ctx, creds.PhoneNumber, creds.PIN)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("orchestrator: login: %w", err)
	}
	otp, err := creds.ReadOTP(ctx, processID)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("orchestrator: read otp: %w", err)
	}
	newTP, err := o.authClient.VerifyOTP(ctx, processID, otp)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("orchestrator: verify otp: %w", err)
	}
	if err := o.store.Save(newTP); err != nil {
		o.log.ErrorErr("orchestrator: save token pair failed", err)
	}
	return newTP, nil
}

// openStream authenticates, dials the stream, and returns a ready mux.
func (o *Orchestrator) openStream(ctx context.Context, creds Credentials) (*streammux.Mux, error) {
	tp, err := o.ensureAuthenticated(ctx, creds)
	if err != nil {
		return nil, err
	}

	mux := streammux.New(o.log, o.metrics)
	opener := streammux.NewBreakerOpener(mux, o.cfg.BreakerFailureThreshold, o.cfg.BreakerCooldown)
	headers := http.Header{}
	headers.Set("User-Agent", o.cfg.UserAgent)
	headers.Set("Origin", o.cfg.Origin)
	headers.Set("Cookie", "tr_session="+tp.Session)
	headers.Set("X-Correlation-Id", uuid.NewString())

	hcfg := streammux.HandshakeConfig{
		ProtocolVersion: o.cfg.ProtocolVersion,
		Locale:          o.cfg.HandshakeLocale,
		PlatformID:      o.cfg.HandshakePlatformID,
		PlatformVersion: o.cfg.HandshakePlatformVersion,
		ClientVersion:   o.cfg.HandshakeClientVersion,
	}
	if err := opener.Open(ctx, o.cfg.StreamURL, headers, hcfg, o.cfg.HandshakeDeadline); err != nil {
		atomic.AddInt64(&o.reconnectCount, 1)
		if o.metrics != nil {
			o.metrics.Reconnects.Inc()
		}
		return nil, fmt.Errorf("orchestrator: open stream: %w", err)
	}
	o.streamState.Store("ready")

	scheduler := tokenrefresh.New(o.authClient, o.store, o.cfg.RefreshCheckInterval, o.log, o.metrics, tp)
	scheduler.OnRefresh(func(tokenstore.TokenPair) {
		o.lastRefreshedAt.Store(time.Now())
	})
	go scheduler.Serve(ctx)

	return mux, nil
}

// RunOnce authenticates, drains the full timeline once, and returns the
// accumulated normalized transactions.
func (o *Orchestrator) RunOnce(ctx context.Context, creds Credentials) ([]classify.NormalizedTxn, error) {
	mux, err := o.openStream(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer mux.Close()

	var pool *workerpool.Pool
	if o.cfg.ClassifyWorkers > 0 {
		pool = workerpool.New(o.cfg.ClassifyWorkers)
		defer pool.Stop()
	}
	classifier := classify.NewClassifier(pool, o.cfg.ClassifyParallelThreshold, schemadrift.NewDetector(), o.metrics)
	classifier.OnDrift(func(mismatches []schemadrift.Mismatch, item classify.RawItem) {
		for _, m := range mismatches {
			o.log.Warnf("orchestrator: schema drift on item %s: %s", item.ID, m.String())
		}
	})

	pager := timeline.NewPager(mux, o.cfg.AwaitInitialDeadline, o.cfg.MaxPages, o.cfg.PageLimit, classifier, o.log, o.metrics)
	txns, err := pager.Drain(ctx)
	if err != nil {
		return txns, fmt.Errorf("orchestrator: drain timeline: %w", err)
	}

	for _, t := range txns {
		o.itemCounts.inc(string(t.Category))
		o.admin.Publish(t)
	}
	atomic.AddInt64(&o.pagesFetched, 1)
	return txns, nil
}

// RunWatch calls RunOnce once, then re-runs it every interval until ctx is
// cancelled, emitting only transactions whose id has not been seen in a
// previous pass.
func (o *Orchestrator) RunWatch(ctx context.Context, creds Credentials, interval time.Duration, emit func(classify.NormalizedTxn)) error {
	seen := make(map[string]struct{})

	runOnce := func() error {
		txns, err := o.RunOnce(ctx, creds)
		if err != nil {
			return err
		}
		for _, t := range txns {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			emit(t)
		}
		return nil
	}

	if err := runOnce(); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				o.log.ErrorErr("orchestrator: watch iteration failed", err)
			}
		}
	}
}
