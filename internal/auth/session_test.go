package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func loginServer(t *testing.T, logins *int, respond func(w http.ResponseWriter, body map[string]string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*logins++
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		respond(w, body)
	}))
}

func okResponse(w http.ResponseWriter, feedToken string) {
	json.NewEncoder(w).Encode(map[string]any{
		"status": true,
		"data":   map[string]string{"jwtToken": "jwt-1", "feedToken": feedToken},
	})
}

func TestAPIKey_LogsInWithFreshTOTP(t *testing.T) {
	var logins int
	var gotCode string
	srv := loginServer(t, &logins, func(w http.ResponseWriter, body map[string]string) {
		gotCode = body["totp"]
		if body["clientcode"] != "C123" {
			t.Errorf("clientcode=%q", body["clientcode"])
		}
		okResponse(w, "feed-abc")
	})
	defer srv.Close()

	c := NewSessionCredentials(srv.URL, "wss://x", "C123", "pw", testSecret, nil)
	token, err := c.APIKey()
	if err != nil {
		t.Fatal(err)
	}
	if token != "feed-abc" {
		t.Errorf("token=%q, want feed token", token)
	}

	valid := totp.Validate(gotCode, testSecret)
	if !valid {
		t.Errorf("sent TOTP %q does not validate against the secret", gotCode)
	}
}

func TestAPIKey_CachesUntilRotation(t *testing.T) {
	var logins int
	srv := loginServer(t, &logins, func(w http.ResponseWriter, _ map[string]string) {
		okResponse(w, "feed-abc")
	})
	defer srv.Close()

	c := NewSessionCredentials(srv.URL, "wss://x", "C123", "pw", testSecret, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.APIKey()
	c.APIKey()
	if logins != 1 {
		t.Fatalf("logins=%d, want 1 (cached)", logins)
	}

	now = now.Add(defaultSessionTTL + time.Minute)
	c.APIKey()
	if logins != 2 {
		t.Errorf("logins=%d, want 2 after TTL elapsed", logins)
	}
}

func TestAPIKey_InvalidateForcesRelogin(t *testing.T) {
	var logins int
	srv := loginServer(t, &logins, func(w http.ResponseWriter, _ map[string]string) {
		okResponse(w, "feed-abc")
	})
	defer srv.Close()

	c := NewSessionCredentials(srv.URL, "wss://x", "C123", "pw", testSecret, nil)
	c.APIKey()
	c.Invalidate()
	c.APIKey()
	if logins != 2 {
		t.Errorf("logins=%d, want 2 after invalidate", logins)
	}
}

func TestAPIKey_RejectedLogin(t *testing.T) {
	var logins int
	srv := loginServer(t, &logins, func(w http.ResponseWriter, _ map[string]string) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "bad totp"})
	})
	defer srv.Close()

	c := NewSessionCredentials(srv.URL, "wss://x", "C123", "pw", testSecret, nil)
	if _, err := c.APIKey(); err == nil {
		t.Fatal("expected error on rejected login")
	}
}

func TestAPIKey_BadTOTPSecret(t *testing.T) {
	c := NewSessionCredentials("http://unused", "wss://x", "C123", "pw", "not-base32!", nil)
	if _, err := c.APIKey(); err == nil {
		t.Fatal("expected error for malformed TOTP secret")
	}
}
