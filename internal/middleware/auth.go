// Package middleware provides HTTP middleware components for the application.
// Authentication happens upstream; this service only verifies bearer tokens
// and attaches the claims to the request context.
package middleware

import (
	"log"
	"strings"

	"corapay/internal/config"
	"corapay/internal/models"
	"corapay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the fiber.Ctx Locals key the verified claims live under.
const ClaimsKey = "claims"

// AuthMiddleware validates JWT bearer tokens and adds the user claims to the
// request context.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	if secret == "" {
		secret = config.GetEnv("JWT_SECRET", "corapay")
	}
	return &AuthMiddleware{secret: []byte(secret)}
}

// Handler verifies the Authorization header and stores claims in Locals.
func (m *AuthMiddleware) Handler(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return response.Unauthorized(c)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Unauthorized(c)
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &models.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		log.Printf("token validation error: %v", err)
		return response.Unauthorized(c)
	}
	if !token.Valid {
		return response.Unauthorized(c)
	}

	claims, ok := token.Claims.(*models.UserClaims)
	if !ok {
		return response.Unauthorized(c)
	}

	c.Locals(ClaimsKey, claims)
	return c.Next()
}

// RequireAdmin allows only admin-role tokens past. Chain after Handler.
func RequireAdmin(c *fiber.Ctx) error {
	claims, ok := c.Locals(ClaimsKey).(*models.UserClaims)
	if !ok {
		return response.Unauthorized(c)
	}
	if claims.Role != "admin" && !claims.HasPermission(models.PermissionWriteAdmin) {
		return response.Forbidden(c)
	}
	return c.Next()
}
