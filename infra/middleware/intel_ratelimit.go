package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"intel_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
	Limit() int
}

// RateLimit throttles per authenticated user, falling back to the client IP.
// It must run after JWTAuth to see the user.
func RateLimit(limiter Limiter, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := scope + ":ip:" + c.IP()
		if userID, ok := c.Locals("user_id").(uuid.UUID); ok {
			key = scope + ":user:" + userID.String()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))

		allowed, wait := limiter.Allow(c.UserContext(), key)
		if allowed {
			return c.Next()
		}

		retryAfter := int((wait + time.Second - 1) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))

		return apperr.New(apperr.CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
			WithDetail("retry_after", retryAfter)
	}
}
