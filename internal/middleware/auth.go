package middleware

import (
	"strings"

	"ohtalk/server/internal/utils"

	"github.com/gofiber/fiber/v2"
)

// Auth validates the JWT from the Authorization header, the token cookie or, for websocket
// upgrades, the token query parameter.
func Auth(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearer(c)
		if tokenString == "" {
			return unauthorized(c, "Unauthorized - No token provided")
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			return unauthorized(c, "Unauthorized - Invalid token")
		}

		// Store user info in context
		c.Locals("userID", claims.UserID)
		c.Locals("username", claims.Username)

		return c.Next()
	}
}

func bearer(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Cookies("token"); token != "" {
		return token
	}
	return c.Query("token")
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"status":  fiber.StatusUnauthorized,
		"message": message,
		"data":    nil,
	})
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals("userID").(string)
	if !ok {
		return ""
	}
	return userID
}

// GetUsername gets the username from context
func GetUsername(c *fiber.Ctx) string {
	username, ok := c.Locals("username").(string)
	if !ok {
		return ""
	}
	return username
}
