// Package http exposes the intelligence pipeline over fiber.
package http

import (
	"intel_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// UserIDKey is the fiber Locals key the auth middleware sets.
const UserIDKey = "user_id"

// GetUserID extracts the authenticated owner from the context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals(UserIDKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperr.Unauthorized("authentication required")
	}
	return userID, nil
}
