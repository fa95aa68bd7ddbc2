// Package auth obtains broker session credentials for the stream. The
// broker's login flow is TOTP-gated: each session is created by posting
// the client code, password and a fresh one-time code, and returns a feed
// token the websocket handshake authenticates with.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

// Session tokens are rotated well before the broker's daily expiry.
const defaultSessionTTL = 6 * time.Hour

// SessionCredentials implements the stream's credential source by logging
// in on demand and caching the session token.
type SessionCredentials struct {
	loginURL   string
	wsURL      string
	clientCode string
	password   string
	totpSecret string

	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	// TTL overrides the session rotation interval when non-zero.
	TTL time.Duration

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewSessionCredentials builds a credential source. No login happens
// until the first APIKey call.
func NewSessionCredentials(loginURL, wsURL, clientCode, password, totpSecret string, log *slog.Logger) *SessionCredentials {
	if log == nil {
		log = slog.Default()
	}
	return &SessionCredentials{
		loginURL:   loginURL,
		wsURL:      wsURL,
		clientCode: clientCode,
		password:   password,
		totpSecret: totpSecret,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        log,
		now:        time.Now,
	}
}

// WebSocketURL returns the stream endpoint.
func (c *SessionCredentials) WebSocketURL() string { return c.wsURL }

// APIKey returns a valid session token, logging in when none is cached
// or the cached one is due for rotation.
func (c *SessionCredentials) APIKey() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if c.token != "" && c.now().Sub(c.fetchedAt) < ttl {
		return c.token, nil
	}

	token, err := c.login()
	if err != nil {
		return "", err
	}
	c.token = token
	c.fetchedAt = c.now()
	c.log.Info("broker session established")
	return token, nil
}

// Invalidate drops the cached token so the next APIKey call logs in
// again. Called when the backend rejects the handshake.
func (c *SessionCredentials) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type loginResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	} `json:"data"`
}

func (c *SessionCredentials) login() (string, error) {
	code, err := totp.GenerateCode(c.totpSecret, c.now())
	if err != nil {
		return "", fmt.Errorf("auth: totp generation: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientcode": c.clientCode,
		"password":   c.password,
		"totp":       code,
	})
	req, err := http.NewRequest(http.MethodPost, c.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: login status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("auth: decode login response: %w", err)
	}
	if !lr.Status {
		return "", fmt.Errorf("auth: login rejected: %s", lr.Message)
	}

	token := lr.Data.FeedToken
	if token == "" {
		token = lr.Data.JWTToken
	}
	if token == "" {
		return "", fmt.Errorf("auth: login response carried no token")
	}
	return token, nil
}
