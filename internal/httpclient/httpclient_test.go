package httpclient_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vaultline/ingestcore/internal/httpclient"
)

func TestNewAppliesTimeout(t *testing.T) {
	c, err := httpclient.New(httpclient.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout: got %v, want 5s", c.Timeout)
	}
	if c.Jar == nil {
		t.Error("Jar: got nil, want a cookie jar")
	}
}

func TestNewRejectsInvalidProxyURL(t *testing.T) {
	_, err := httpclient.New(httpclient.Options{ProxyURL: "://not-a-url"})
	if err == nil {
		t.Fatal("New: got nil error, want parse failure for invalid proxy URL")
	}
}

func TestNewAcceptsValidProxyURL(t *testing.T) {
	_, err := httpclient.New(httpclient.Options{ProxyURL: "http://proxy.example.com:8080"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestNewThrottlesRequestsToConfiguredRate(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	c, err := httpclient.New(httpclient.Options{RequestsPerSecond: 10, Burst: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		resp.Body.Close()
	}
	elapsed := time.Since(start)

	// 1 burst token + 2 waits at 10 req/s should take at least ~200ms.
	if elapsed < 150*time.Millisecond {
		t.Errorf("elapsed: got %v, want at least ~150ms given the configured rate limit", elapsed)
	}
}

func TestNewWithoutRateLimitDoesNotThrottle(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	c, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		resp.Body.Close()
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("elapsed: got %v, want well under 100ms with no rate limit configured", elapsed)
	}
}
