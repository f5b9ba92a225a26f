package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const clientIDKey = "client_id"

// ClientIDFromCtx extracts the caller identity set by APIKeyMiddleware.
func ClientIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(clientIDKey).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header against the
// configured keys. The client id is the key's position ("key-0", "key-1", ...) so
// secrets never end up in rate-limit keys or logs. With no keys configured every
// request is accepted as "anonymous".
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(valid) == 0 {
				c.Set(clientIDKey, "anonymous")
				return next(c)
			}

			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			for i, v := range valid {
				if subtle.ConstantTimeCompare([]byte(key), v) == 1 {
					c.Set(clientIDKey, "key-"+strconv.Itoa(i))
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}
	}
}
