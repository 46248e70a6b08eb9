// Package auth implements the two-step phone+PIN, OTP-confirmed login flow
// and opaque-token refresh against the brokerage's HTTPS auth endpoints.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vaultline/ingestcore/internal/tokenstore"
)

// Kind enumerates the taxonomy of authentication failures a caller needs to
// branch on; it deliberately does not distinguish at the Go-type level, so
// callers switch on Kind rather than type-asserting concrete error types.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindOTPInvalid         Kind = "otp_invalid"
	KindOTPExpired         Kind = "otp_expired"
	KindRefreshExpired     Kind = "refresh_expired"
	KindRateLimited        Kind = "rate_limited"
	KindNetwork            Kind = "network"
)

// Error is returned by every Client method on failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth: %s (status %d): %s", e.Kind, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Client drives the login/refresh HTTP endpoints. All requests set
// Content-Type: application/json and Accept: application/json in addition
// to the configured User-Agent.
type Client struct {
	HTTP      *http.Client
	BaseURL   string
	UserAgent string
}

// New returns a Client backed by httpClient, pointed at baseURL.
func New(httpClient *http.Client, baseURL, userAgent string) *Client {
	return &Client{HTTP: httpClient, BaseURL: baseURL, UserAgent: userAgent}
}

// Login starts the two-step flow: phone number + PIN yields a process ID
// that identifies the pending OTP challenge.
func (c *Client) Login(ctx context.Context, phoneNumber, pin string) (processID string, err error) {
	body, err := json.Marshal(map[string]string{"phoneNumber": phoneNumber, "pin": pin})
	if err != nil {
		return "", fmt.Errorf("auth: encode login body: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/web/login", body)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode >= 400:
		return "", &Error{Kind: KindInvalidCredentials, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		ProcessID string `json:"processId"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Kind: KindNetwork, Err: fmt.Errorf("decode login response: %w", err)}
	}
	return parsed.ProcessID, nil
}

// VerifyOTP completes the login flow with the one-time passcode, returning
// the opaque session/refresh token pair minted by the server.
func (c *Client) VerifyOTP(ctx context.Context, processID, otp string) (tokenstore.TokenPair, error) {
	path := fmt.Sprintf("/auth/web/login/%s/%s", processID, otp)

	resp, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return tokenstore.TokenPair{}, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return tokenstore.TokenPair{}, &Error{Kind: KindRateLimited, StatusCode: resp.StatusCode, Body: string(respBody)}
	case http.StatusGone, http.StatusRequestTimeout:
		return tokenstore.TokenPair{}, &Error{Kind: KindOTPExpired, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return tokenstore.TokenPair{}, &Error{Kind: KindOTPInvalid, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	tp := extractTokenPair(resp)
	if tp.Session == "" {
		return tokenstore.TokenPair{}, &Error{Kind: KindOTPInvalid, StatusCode: resp.StatusCode, Body: "no tr_session cookie in response"}
	}
	return tp, nil
}

// Refresh exchanges a refresh token for a fresh session/refresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/auth/web/session", nil)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("auth: build refresh request: %w", err)
	}
	c.setCommonHeaders(req)
	req.AddCookie(&http.Cookie{Name: "tr_refresh", Value: refreshToken})

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return tokenstore.TokenPair{}, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return tokenstore.TokenPair{}, &Error{Kind: KindRefreshExpired, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		return tokenstore.TokenPair{}, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	tp := extractTokenPair(resp)
	if tp.Session == "" {
		return tokenstore.TokenPair{}, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Body: "refresh succeeded but no tr_session cookie was set"}
	}
	if tp.Refresh == "" {
		// Refresh token rotation is optional; if the server didn't rotate
		// it, the caller keeps using the one it already has.
		tp.Refresh = refreshToken
	}
	return tp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setCommonHeaders(req)
	return c.HTTP.Do(req)
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
}

func extractTokenPair(resp *http.Response) tokenstore.TokenPair {
	var tp tokenstore.TokenPair
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case "tr_session":
			tp.Session = ck.Value
		case "tr_refresh":
			tp.Refresh = ck.Value
		}
	}
	return tp
}
