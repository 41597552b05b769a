package auth

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/itsAR-VR/pricebot/internal/core/metrics"
	"github.com/itsAR-VR/pricebot/internal/core/ratelimit"
)

func newGuardedApp(cfg GuardConfig, limiter *ratelimit.Limiter, reg *metrics.Registry) *fiber.App {
	app := fiber.New()
	handlers := []fiber.Handler{
		IngestTokenMiddleware(cfg, reg),
		SignatureMiddleware(cfg, reg),
	}
	if limiter != nil {
		handlers = append(handlers, RateLimitMiddleware(limiter, reg))
	}
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/ingest", handlers...)
	return app
}

// TestIngestTokenMiddleware verifies the token gate: 401 on wrong/missing
// token, 503 in production without server-side config, open in local dev.
func TestIngestTokenMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cfg        GuardConfig
		token      string
		wantStatus int
	}{
		{"valid token", GuardConfig{Token: "secret"}, "secret", 200},
		{"wrong token", GuardConfig{Token: "secret"}, "nope", 401},
		{"missing token", GuardConfig{Token: "secret"}, "", 401},
		{"prod without config", GuardConfig{Production: true}, "", 503},
		{"local without config", GuardConfig{}, "", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newGuardedApp(tt.cfg, nil, nil)
			req := httptest.NewRequest("POST", "/ingest", bytes.NewReader([]byte(`{}`)))
			req.Header.Set("Content-Type", "application/json")
			if tt.token != "" {
				req.Header.Set(HeaderIngestToken, tt.token)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

// TestSignatureMiddleware verifies HMAC acceptance, tampering rejection and
// the timestamp TTL window.
func TestSignatureMiddleware(t *testing.T) {
	secret := "hmac-secret"
	body := []byte(`{"client_id":"c1","messages":[]}`)

	sign := func(ts int64, payload []byte) (string, string) {
		tsStr := strconv.FormatInt(ts, 10)
		return ComputeSignature(secret, tsStr, payload), tsStr
	}

	tests := []struct {
		name       string
		signature  func() (sig, ts string)
		wantStatus int
	}{
		{
			name: "valid signature",
			signature: func() (string, string) {
				return sign(time.Now().Unix(), body)
			},
			wantStatus: 200,
		},
		{
			name: "wrong secret",
			signature: func() (string, string) {
				ts := strconv.FormatInt(time.Now().Unix(), 10)
				return ComputeSignature("other-secret", ts, body), ts
			},
			wantStatus: 403,
		},
		{
			name: "stale timestamp",
			signature: func() (string, string) {
				return sign(time.Now().Add(-10*time.Minute).Unix(), body)
			},
			wantStatus: 403,
		},
		{
			name: "future timestamp",
			signature: func() (string, string) {
				return sign(time.Now().Add(10*time.Minute).Unix(), body)
			},
			wantStatus: 403,
		},
		{
			name: "garbage timestamp",
			signature: func() (string, string) {
				return ComputeSignature(secret, "not-a-number", body), "not-a-number"
			},
			wantStatus: 403,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GuardConfig{HMACSecret: secret, SignatureTTL: 300 * time.Second}
			app := newGuardedApp(cfg, nil, nil)

			sig, ts := tt.signature()
			req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(HeaderSignature, sig)
			req.Header.Set(HeaderSignatureTimestamp, ts)

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

// TestSignatureMissingHeaders verifies both headers are mandatory once a
// secret is configured.
func TestSignatureMissingHeaders(t *testing.T) {
	cfg := GuardConfig{HMACSecret: "s"}
	app := newGuardedApp(cfg, nil, nil)

	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 403 {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

// TestRateLimitMiddleware runs the literal throttle scenario: bucket of two
// per minute, three rapid posts, third answers 429 with a Retry-After.
func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, 2)
	reg := metrics.NewRegistry()
	app := newGuardedApp(GuardConfig{}, limiter, reg)

	body := []byte(`{"client_id":"c1","messages":[]}`)
	statuses := make([]int, 0, 3)
	var retryAfter string
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		statuses = append(statuses, resp.StatusCode)
		if resp.StatusCode == 429 {
			retryAfter = resp.Header.Get("Retry-After")
		}
	}

	want := []int{200, 200, 429}
	if fmt.Sprint(statuses) != fmt.Sprint(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	if secs, err := strconv.Atoi(retryAfter); err != nil || secs <= 0 {
		t.Errorf("Retry-After = %q, want positive integer seconds", retryAfter)
	}

	totals := reg.AggregateTotals()
	if totals.RateLimited != 1 {
		t.Errorf("rate_limited counter = %d, want 1", totals.RateLimited)
	}
}

// TestRateLimitKeysOnClientID verifies different client ids do not share a
// bucket.
func TestRateLimitKeysOnClientID(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, 1)
	app := newGuardedApp(GuardConfig{}, limiter, nil)

	send := func(clientID string) int {
		body := []byte(`{"client_id":"` + clientID + `","messages":[]}`)
		req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	if got := send("alpha"); got != 200 {
		t.Fatalf("alpha first request = %d, want 200", got)
	}
	if got := send("alpha"); got != 429 {
		t.Fatalf("alpha second request = %d, want 429", got)
	}
	if got := send("beta"); got != 200 {
		t.Fatalf("beta should have its own bucket, got %d", got)
	}
}

// TestAdminBasicAuth verifies the admin gate honors credentials and the
// local-environment bypass.
func TestAdminBasicAuth(t *testing.T) {
	newApp := func(user, pass string, enabled bool) *fiber.App {
		app := fiber.New()
		app.Get("/admin/ping", AdminBasicAuth(user, pass, enabled), func(c *fiber.Ctx) error {
			return c.SendStatus(200)
		})
		return app
	}

	t.Run("disabled passes through", func(t *testing.T) {
		app := newApp("", "", false)
		resp, _ := app.Test(httptest.NewRequest("GET", "/admin/ping", nil))
		if resp.StatusCode != 200 {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("enabled without credentials", func(t *testing.T) {
		app := newApp("", "", true)
		resp, _ := app.Test(httptest.NewRequest("GET", "/admin/ping", nil))
		if resp.StatusCode != 503 {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		app := newApp("ops", "pw", true)
		req := httptest.NewRequest("GET", "/admin/ping", nil)
		req.SetBasicAuth("ops", "wrong")
		resp, _ := app.Test(req)
		if resp.StatusCode != 401 {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Errorf("expected WWW-Authenticate challenge")
		}
	})

	t.Run("valid credentials", func(t *testing.T) {
		app := newApp("ops", "pw", true)
		req := httptest.NewRequest("GET", "/admin/ping", nil)
		req.SetBasicAuth("ops", "pw")
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})
}

// TestSignRequestRoundTrip verifies the collector-side helper produces
// headers the server-side middleware accepts.
func TestSignRequestRoundTrip(t *testing.T) {
	cfg := GuardConfig{Token: "tok", HMACSecret: "sec", SignatureTTL: 300 * time.Second}
	app := newGuardedApp(cfg, nil, nil)

	body := []byte(`{"client_id":"collector-1","messages":[]}`)
	headers := SignRequest("tok", "sec", body, time.Now())

	req := httptest.NewRequest("POST", "/ingest", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
