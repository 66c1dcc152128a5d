package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"quota-gateway/internal/models"
)

// Maximum body size peeked at when resolving a user id from JSON.
const maxIdentityBodyBytes = 64 * 1024

// Resolves the acting user and tier for every request. User id precedence:
// path parameter, query parameter, X-User-Id header, JWT bearer claim, JSON
// body field - first match wins. Requests with no resolvable user stay
// anonymous and are only subject to the global IP limits.
func Identity(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := bearerClaims(c, jwtSecret)

		userID := c.Param("user_id")
		if userID == "" {
			userID = c.Query("user_id")
		}
		if userID == "" {
			userID = strings.TrimSpace(c.GetHeader("X-User-Id"))
		}
		if userID == "" && claims != nil {
			if sub, ok := claims["sub"].(string); ok {
				userID = sub
			}
		}
		if userID == "" {
			userID = userIDFromBody(c)
		}

		tier := strings.TrimSpace(c.GetHeader("X-User-Tier"))
		if tier == "" {
			if apiKeyInterface, exists := c.Get("api_key"); exists && apiKeyInterface != nil {
				tier = apiKeyInterface.(*models.APIKey).Tier
			}
		}
		if tier == "" && claims != nil {
			if t, ok := claims["tier"].(string); ok {
				tier = t
			}
		}
		if tier == "" {
			tier = "free"
		}

		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Set("user_tier", tier)

		c.Next()
	}
}

// Parses the Authorization bearer token if present. An invalid token is
// not an error here - JWT is just one identity source among several.
func bearerClaims(c *gin.Context, secret []byte) jwt.MapClaims {
	if len(secret) == 0 {
		return nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claims
}

// Peeks at a JSON body for a user_id field, restoring the body afterwards
// so handlers can still read it.
func userIDFromBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	contentType := c.GetHeader("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdentityBodyBytes))
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.UserID
}
