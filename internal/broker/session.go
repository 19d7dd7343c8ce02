package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"futures-agent/pkg/clock"
)

// Config holds the brokerage credentials and connection endpoints.
type Config struct {
	Username   string
	Password   string
	AppID      string
	AppVersion string
	DeviceID   string
	CID        string
	Secret     string

	RestBaseURL string
	MarketWSURL string
	UserWSURL   string

	HeartbeatInterval time.Duration
}

// reauthThreshold is how long before token expiry the session proactively
// refreshes its access token.
const reauthThreshold = 1 * time.Hour

// session tracks the current access token and its expiry, reauthenticating
// proactively and reactively.
type session struct {
	mu          sync.Mutex
	cfg         Config
	httpClient  *http.Client
	clock       clock.Clock
	accessToken string
	userID      int64
	expiresAt   time.Time
}

func newSession(cfg Config, httpClient *http.Client, clk clock.Clock) *session {
	return &session{cfg: cfg, httpClient: httpClient, clock: clk}
}

type authResponse struct {
	AccessToken    string    `json:"accessToken"`
	UserID         int64     `json:"userId"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// authenticate performs the accesstokenrequest call and stores the result.
func (s *session) authenticate(ctx context.Context) error {
	body := map[string]any{
		"name":       s.cfg.Username,
		"password":   s.cfg.Password,
		"appId":      s.cfg.AppID,
		"appVersion": s.cfg.AppVersion,
		"deviceId":   s.cfg.DeviceID,
	}
	if s.cfg.CID != "" {
		body["cid"] = s.cfg.CID
	}
	if s.cfg.Secret != "" {
		body["sec"] = s.cfg.Secret
	}

	var resp authResponse
	if err := s.postUnauthenticated(ctx, "auth/accesstokenrequest", body, &resp); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	s.mu.Lock()
	s.accessToken = resp.AccessToken
	s.userID = resp.UserID
	s.expiresAt = resp.ExpirationTime
	s.mu.Unlock()
	return nil
}

// token returns the current access token, reauthenticating first if it is
// within reauthThreshold of expiring (proactive reauth).
func (s *session) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	expiring := s.accessToken == "" || s.clock.Now().Add(reauthThreshold).After(s.expiresAt)
	s.mu.Unlock()

	if expiring {
		if err := s.authenticate(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, nil
}

// forceReauth discards the current token, forcing the next token() call to
// reauthenticate. Used reactively on NotAuthenticated responses.
func (s *session) forceReauth(ctx context.Context) error {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
	return s.authenticate(ctx)
}

func (s *session) postUnauthenticated(ctx context.Context, path string, body any, out any) error {
	return s.do(ctx, http.MethodPost, path, "", body, out)
}

func (s *session) do(ctx context.Context, method, path, token string, body any, out any) error {
	var buf strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal request: %v", ErrTransport, err)
		}
		buf = *strings.NewReader(string(raw))
	}

	u, err := url.JoinPath(s.cfg.RestBaseURL, path)
	if err != nil {
		return fmt.Errorf("%w: build url: %v", ErrTransport, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u, &buf)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNotAuthenticated
	case http.StatusTooManyRequests:
		return ErrRejected
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return nil
}

// authedDo issues an authenticated request, retrying once with a forced
// reauth if the first attempt comes back NotAuthenticated.
func (s *session) authedDo(ctx context.Context, method, path string, body any, out any) error {
	tok, err := s.token(ctx)
	if err != nil {
		return err
	}
	err = s.do(ctx, method, path, tok, body, out)
	if err == ErrNotAuthenticated {
		if rerr := s.forceReauth(ctx); rerr != nil {
			return rerr
		}
		tok, err = s.token(ctx)
		if err != nil {
			return err
		}
		return s.do(ctx, method, path, tok, body, out)
	}
	return err
}
