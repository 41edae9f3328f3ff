package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intel_server/pkg/apperr"
	"intel_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "token:blacklist:"

// AuthConfig configures JWTAuth. Revoked is optional; when set, tokens whose
// jti is present under token:blacklist: are rejected.
type AuthConfig struct {
	Secret  string
	Revoked redis.UniversalClient
	Now     func() time.Time
}

// JWTAuth validates an HS256 bearer token and stores the owner id taken from
// the sub claim under the "user_id" local.
func JWTAuth(cfg AuthConfig) fiber.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if cfg.Secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(cfg.Secret), nil
		}, jwt.WithTimeFunc(now), jwt.WithIssuedAt(), jwt.WithLeeway(time.Minute))
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.InvalidToken("invalid claims")
		}

		if jti, ok := claims["jti"].(string); ok && jti != "" && isRevoked(c.UserContext(), cfg.Revoked, jti) {
			return apperr.InvalidToken("token has been revoked")
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil || userID == uuid.Nil {
			return apperr.InvalidToken("missing or invalid user id in token")
		}

		c.Locals("user_id", userID)
		if email, ok := claims["email"].(string); ok {
			c.Locals("user_email", email)
		}
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// isRevoked fails open when Redis is unreachable.
func isRevoked(ctx context.Context, client redis.UniversalClient, jti string) bool {
	if client == nil {
		return false
	}
	n, err := client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		logger.WithError(err).Warn("token revocation check failed")
		return false
	}
	return n > 0
}
