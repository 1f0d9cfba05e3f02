package webserver

import (
	"net/http"
	"strings"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/data"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := c.GetHeader("Authorization")
		if !strings.HasPrefix(bearer, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		tokenStr := bearer[7:]
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims := token.Claims.(jwt.MapClaims)
		c.Set("uid", claims["uid"])
		c.Next()
	}
}

// AdminOnly gates a route group to the Discord ids named in the admin_ids
// setting (comma separated).
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("uid")
		if uid == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		for _, id := range strings.Split(data.GetSetting("admin_ids"), ",") {
			if strings.TrimSpace(id) == uid {
				c.Next()
				return
			}
		}
		c.AbortWithStatus(http.StatusForbidden)
	}
}
