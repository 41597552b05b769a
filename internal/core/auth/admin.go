package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminBasicAuth protects operator routes with HTTP basic auth. When enabled
// is false (local environment) the middleware passes everything through.
func AdminBasicAuth(username, password string, enabled bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !enabled {
			return c.Next()
		}
		if username == "" || password == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "admin access disabled: credentials not configured",
			})
		}

		user, pass, ok := parseBasicAuth(c.Get(fiber.HeaderAuthorization))
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="pricebot-admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "admin authentication required",
			})
		}
		return c.Next()
	}
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}
