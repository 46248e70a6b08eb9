// Package config loads and validates ingestcore's configuration.
//
// Layers koanf providers — a JSON file overridden by environment
// variables — instead of reading a single JSON file by hand, so that
// deployment-specific values can be injected via environment rather than
// committed to a config file on disk. The account phone number and PIN are
// not part of Config; cmd/ingestd takes them as flags. Validation is delegated to
// go-playground/validator rather than left to callers to check field by
// field after loading.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every tunable parameter for the ingester core and
// orchestrator: auth/stream endpoints, handshake identity, timeouts and
// pagination limits, and the admin/observability surface.
type Config struct {
	// AuthBaseURL is the HTTPS origin for the two-step login + refresh
	// endpoints.
	AuthBaseURL string `koanf:"auth_base_url" validate:"required,url"`

	// StreamURL is the WSS endpoint for the persistent stream.
	StreamURL string `koanf:"stream_url" validate:"required"`

	// Origin is sent as the WebSocket Origin header; must match the web app
	// the server expects.
	Origin string `koanf:"origin" validate:"required"`

	// ProtocolVersion is the integer sent right after the "connect" keyword
	// of the "connect" frame. The upstream has been observed advertising both 31
	// and 33 across deployments, so it is configuration, not a compiled-in
	// constant.
	ProtocolVersion int `koanf:"protocol_version" validate:"required"`

	// UserAgent is sent on every HTTP request and as the stream's dial
	// header.
	UserAgent string `koanf:"user_agent" validate:"required"`

	// HandshakeLocale, HandshakePlatformID, HandshakePlatformVersion and
	// HandshakeClientVersion populate the "connect" JSON handshake body's
	// locale, platformId, platformVersion and clientVersion fields. No
	// client identifier field is sent.
	HandshakeLocale          string `koanf:"handshake_locale" validate:"required"`
	HandshakePlatformID      string `koanf:"handshake_platform_id" validate:"required"`
	HandshakePlatformVersion string `koanf:"handshake_platform_version" validate:"required"`
	HandshakeClientVersion   string `koanf:"handshake_client_version" validate:"required"`

	// TokenFilePath is the fixed local path for the persisted {session,
	// refresh} blob.
	TokenFilePath string `koanf:"token_file_path" validate:"required"`

	// RequestTimeout bounds every HTTP request made by the auth client.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// HandshakeDeadline bounds how long opening the stream waits for the
	// "connected" frame.
	HandshakeDeadline time.Duration `koanf:"handshake_deadline"`

	// AwaitInitialDeadline is the default deadline the pager passes while
	// waiting for a subscription's first reply.
	AwaitInitialDeadline time.Duration `koanf:"await_initial_deadline"`

	// MaxPages caps the pagination loop.
	MaxPages int `koanf:"max_pages"`

	// PageLimit is the optional hard cap N on accumulated items. Zero means
	// unlimited.
	PageLimit int `koanf:"page_limit"`

	// RefreshCheckInterval is how often the silent-refresh loop
	// (internal/tokenrefresh) renews the session token; it refreshes
	// unconditionally on every tick. Zero or negative disables refreshing.
	RefreshCheckInterval time.Duration `koanf:"refresh_check_interval"`

	// ProxyURL is an optional single outbound proxy used for the HTTPS auth
	// client. The WebSocket dial does not use it. Empty means connect
	// directly. Ignored if ProxyListPath is set.
	ProxyURL string `koanf:"proxy_url" validate:"omitempty,url"`

	// ProxyListPath, if set, names a newline-delimited file of proxy
	// addresses, used instead of the single ProxyURL. cmd/ingestd loads the
	// list and takes one proxy from it (the first) for the auth client at
	// startup; it does not rotate between them afterwards.
	ProxyListPath string `koanf:"proxy_list_path"`

	// AdminAddr is the listen address for the admin/status HTTP surface.
	// Empty disables it.
	AdminAddr string `koanf:"admin_addr"`

	// WatchInterval, when non-zero, makes the orchestrator re-run the
	// pager on this interval instead of exiting after one full drain.
	WatchInterval time.Duration `koanf:"watch_interval"`

	// ClassifyWorkers is the worker-pool size used to parallelize
	// classification of a page's items. Zero or negative falls back to
	// sequential classification.
	ClassifyWorkers int `koanf:"classify_workers"`

	// ClassifyParallelThreshold is the minimum page size before the worker
	// pool is used at all; small pages classify sequentially to avoid
	// goroutine overhead for no benefit.
	ClassifyParallelThreshold int `koanf:"classify_parallel_threshold"`

	// BreakerFailureThreshold is the number of consecutive transport
	// failures that trips the stream-open circuit breaker.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold"`

	// BreakerCooldown is how long the stream-open circuit breaker stays
	// open before allowing a single trial reconnect.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`

	// AuthRequestsPerSecond caps how fast the auth client self-paces
	// outbound login/refresh requests. Zero disables throttling.
	AuthRequestsPerSecond float64 `koanf:"auth_requests_per_second"`

	// AuthRequestBurst is the token-bucket burst paired with
	// AuthRequestsPerSecond.
	AuthRequestBurst int `koanf:"auth_request_burst"`
}

// Default returns a Config pre-filled with production-sensible defaults.
// Every call returns a fresh, independently-mutable copy.
func Default() *Config {
	return &Config{
		ProtocolVersion:           31,
		UserAgent:                 "Mozilla/5.0 (compatible; ingestcore/1.0)",
		HandshakeLocale:           "en",
		HandshakePlatformID:       "webtrading",
		HandshakePlatformVersion:  "chrome - 120.0.0",
		HandshakeClientVersion:    "1.0.0",
		TokenFilePath:             "ingestcore_tokens.json",
		RequestTimeout:            10 * time.Second,
		HandshakeDeadline:         10 * time.Second,
		AwaitInitialDeadline:      15 * time.Second,
		MaxPages:                  500,
		PageLimit:                 0,
		RefreshCheckInterval:      5 * time.Minute,
		AdminAddr:                 "",
		WatchInterval:             0,
		ClassifyWorkers:           4,
		ClassifyParallelThreshold: 64,
		BreakerFailureThreshold:   5,
		BreakerCooldown:           30 * time.Second,
		AuthRequestsPerSecond:     2,
		AuthRequestBurst:          3,
	}
}

// Load layers an optional JSON file over Default(), then overlays
// environment variables prefixed "INGESTCORE_", and validates the result.
//
// filename may be empty, in which case only defaults and environment
// variables apply.
func Load(filename string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if filename != "" {
		if err := k.Load(file.Provider(filename), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", filename, err)
		}
	}

	if err := k.Load(env.Provider("INGESTCORE_", ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// envKeyMap turns INGESTCORE_AUTH_BASE_URL into auth_base_url, matching the
// koanf tags on Config.
func envKeyMap(raw string) string {
	s := strings.TrimPrefix(raw, "INGESTCORE_")
	return strings.ToLower(s)
}

// defaultsMap mirrors Default() as a flat key/value map so it can be fed
// through the same confmap provider path as every other layer, instead of
// koanf reflecting over the struct a second time.
func defaultsMap() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"protocol_version":            d.ProtocolVersion,
		"user_agent":                  d.UserAgent,
		"handshake_locale":            d.HandshakeLocale,
		"handshake_platform_id":       d.HandshakePlatformID,
		"handshake_platform_version":  d.HandshakePlatformVersion,
		"handshake_client_version":    d.HandshakeClientVersion,
		"token_file_path":             d.TokenFilePath,
		"request_timeout":             d.RequestTimeout,
		"handshake_deadline":          d.HandshakeDeadline,
		"await_initial_deadline":      d.AwaitInitialDeadline,
		"max_pages":                   d.MaxPages,
		"page_limit":                  d.PageLimit,
		"refresh_check_interval":      d.RefreshCheckInterval,
		"proxy_list_path":             d.ProxyListPath,
		"admin_addr":                  d.AdminAddr,
		"watch_interval":              d.WatchInterval,
		"classify_workers":            d.ClassifyWorkers,
		"classify_parallel_threshold": d.ClassifyParallelThreshold,
		"breaker_failure_threshold":   d.BreakerFailureThreshold,
		"breaker_cooldown":            d.BreakerCooldown,
		"auth_requests_per_second":    d.AuthRequestsPerSecond,
		"auth_request_burst":          d.AuthRequestBurst,
	}
}
