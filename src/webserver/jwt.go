package webserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = time.Hour

func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"err": "authentication not configured"})
			return
		}
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "missing bearer token"})
			return
		}
		tok, err := jwt.Parse(h[7:], func(t *jwt.Token) (interface{}, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "invalid token"})
			return
		}
		addr, _ := tok.Claims.(jwt.MapClaims)["addr"].(string)
		if addr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"err": "token has no address"})
			return
		}
		c.Set("addr", addr)
		c.Next()
	}
}

// AdminMiddleware lets through only wallets listed by admins.
func AdminMiddleware(admins func() []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.GetString("addr")
		for _, a := range admins() {
			if a != "" && a == addr {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"err": "admin access required"})
	}
}

func issueJWT(addr string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"addr": addr,
		"exp":  time.Now().Add(tokenTTL).Unix(),
	})
	return token.SignedString(secret)
}
