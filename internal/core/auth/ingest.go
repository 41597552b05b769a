// Package auth guards the ingest and admin surfaces. The WhatsApp ingest
// endpoint is protected by a shared token, an optional HMAC signature over
// the raw body, and a per-client rate limit. Admin routes use basic auth.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/itsAR-VR/pricebot/internal/core/metrics"
	"github.com/itsAR-VR/pricebot/internal/core/ratelimit"
)

const (
	HeaderIngestToken        = "X-Ingest-Token"
	HeaderSignature          = "X-Signature"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
)

// GuardConfig carries the ingest-protection settings resolved at startup.
type GuardConfig struct {
	Token        string
	HMACSecret   string
	SignatureTTL time.Duration
	// Production requires a configured token; without one the endpoint
	// answers 503 instead of accepting unauthenticated traffic.
	Production bool
}

// ComputeSignature returns hex(HMAC-SHA256(secret, timestamp + "." + body)).
// The collector uses the same function to sign outgoing batches.
func ComputeSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// IngestTokenMiddleware validates the shared ingest token.
func IngestTokenMiddleware(cfg GuardConfig, reg *metrics.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Token == "" {
			if cfg.Production {
				recordRejection(reg, c, fiber.StatusServiceUnavailable, "missing_token_config")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "ingest disabled: missing token config",
				})
			}
			// Local/dev without a configured token runs open.
			return c.Next()
		}

		provided := c.Get(HeaderIngestToken)
		if provided == "" {
			recordRejection(reg, c, fiber.StatusUnauthorized, "missing_token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing ingest token",
			})
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Token)) != 1 {
			recordRejection(reg, c, fiber.StatusUnauthorized, "invalid_token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid ingest token",
			})
		}
		return c.Next()
	}
}

// SignatureMiddleware verifies the HMAC headers when a secret is configured.
// Verification covers the raw request body, so it must run before parsing.
func SignatureMiddleware(cfg GuardConfig, reg *metrics.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.HMACSecret == "" {
			return c.Next()
		}

		signature := c.Get(HeaderSignature)
		timestamp := c.Get(HeaderSignatureTimestamp)
		if signature == "" || timestamp == "" {
			recordRejection(reg, c, fiber.StatusForbidden, "invalid_signature")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "missing signature headers",
			})
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			recordRejection(reg, c, fiber.StatusForbidden, "invalid_signature")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid signature timestamp",
			})
		}

		ttl := cfg.SignatureTTL
		if ttl <= 0 {
			ttl = 300 * time.Second
		}
		if drift := time.Since(time.Unix(ts, 0)); drift > ttl || drift < -ttl {
			recordRejection(reg, c, fiber.StatusForbidden, "stale_signature")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "signature timestamp outside allowed window",
			})
		}

		expected := ComputeSignature(cfg.HMACSecret, timestamp, c.Body())
		if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
			recordRejection(reg, c, fiber.StatusForbidden, "invalid_signature")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "invalid signature",
			})
		}
		return c.Next()
	}
}

// RateLimitMiddleware enforces the per-client token bucket. The key is the
// client_id from the body when present, else the caller IP.
func RateLimitMiddleware(limiter *ratelimit.Limiter, reg *metrics.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !limiter.Enabled() {
			return c.Next()
		}

		key := clientIDFromBody(c.Body())
		if key == "" {
			key = c.IP()
		}

		ok, wait := limiter.Allow(key)
		if !ok {
			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			recordRejection(reg, c, fiber.StatusTooManyRequests, "rate_limited")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
		}
		return c.Next()
	}
}

func recordRejection(reg *metrics.Registry, c *fiber.Ctx, status int, reason string) {
	if reg == nil {
		return
	}
	reg.RecordHTTPEvent(clientIDFromBody(c.Body()), "", "", status, reason)
}

// clientIDFromBody peeks at the JSON body for attribution only; a parse
// failure just means the counters land under "unknown".
func clientIDFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		ClientID string `json:"client_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.ClientID
}

// SignRequest stamps the token and HMAC headers onto an outgoing request
// description, returning the header map the collector should send.
func SignRequest(token, secret string, body []byte, now time.Time) map[string]string {
	headers := map[string]string{
		fiber.HeaderContentType: fiber.MIMEApplicationJSON,
	}
	if token != "" {
		headers[HeaderIngestToken] = token
	}
	if secret != "" {
		ts := fmt.Sprintf("%d", now.Unix())
		headers[HeaderSignatureTimestamp] = ts
		headers[HeaderSignature] = ComputeSignature(secret, ts, body)
	}
	return headers
}
