package api

import (
	"net/http"
	"strings"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	actorKey         = "actor"
	kindUnauthorized = "unauthenticated"
)

// JWTAuth validates an HS256 bearer token and stores the caller as a domain.Actor.
// The system role is internal and cannot be claimed by a token.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}

		tok, err := jwt.Parse(strings.TrimPrefix(h, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			unauthorized(c, "invalid token")
			return
		}

		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "invalid claims")
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			unauthorized(c, "token has no subject")
			return
		}
		role, _ := claims["role"].(string)
		actor := domain.Actor{ID: sub, Role: domain.Role(role)}
		if !actor.Role.Valid() || actor.Role == domain.RoleSystem {
			unauthorized(c, "token has no usable role")
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "kind": kindUnauthorized})
}

// actorFrom returns the authenticated caller. Routes behind JWTAuth always have one.
func actorFrom(c *gin.Context) domain.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(domain.Actor)
	return actor
}
