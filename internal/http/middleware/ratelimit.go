package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// WindowCounter increments a fixed-window counter and returns its new value.
type WindowCounter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter is a WindowCounter backed by INCR + EXPIRE in one pipeline.
type RedisCounter struct {
	Redis *redis.Client
}

func (r RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.Redis.Pipeline()
	cnt := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cnt.Val(), nil
}

// RateLimitConfig config for the fixed-window limiter.
type RateLimitConfig struct {
	Counter        WindowCounter // nil disables limiting
	Max            int           // requests per window per client; <= 0 disables limiting
	KeyPrefix      string        // e.g. "rl:client:"
	Window         time.Duration // default 1m
	RetryAfterHint bool          // set Retry-After header when limited
	Now            func() time.Time
}

// RateLimitMiddleware applies a fixed-window per-client limit.
// It expects client_id in echo.Context (set by APIKeyMiddleware) and fails open on counter errors.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:client:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Max <= 0 || cfg.Counter == nil {
				return next(c)
			}
			client, ok := ClientIDFromCtx(c)
			if !ok {
				return next(c)
			}

			// fixed-window key: rl:client:{id}:{window index}
			now := cfg.Now()
			bucket := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + client + ":" + strconv.FormatInt(bucket, 10)

			cnt, err := cfg.Counter.Incr(c.Request().Context(), key, cfg.Window*2)
			if err != nil {
				c.Logger().Warnf("rate limit counter: %v", err)
				return next(c)
			}

			if cnt > int64(cfg.Max) {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
