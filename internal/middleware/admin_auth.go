package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Protects the admin API with a single bcrypt-hashed credential supplied in
// X-Admin-Password. An empty configured hash disables the admin API.
func AdminAuth(passwordHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if passwordHash == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "admin API is disabled",
			})
			c.Abort()
			return
		}

		password := c.GetHeader("X-Admin-Password")
		if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid admin credentials",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
