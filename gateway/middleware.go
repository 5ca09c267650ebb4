package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

const userKey = "user"

func bearerToken(c *gin.Context) string {
	scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func currentUser(c *gin.Context) *repository.UserCache {
	if v, ok := c.Get(userKey); ok {
		return v.(*repository.UserCache)
	}
	return nil
}

func (g *Gateway) authenticate(c *gin.Context) (*repository.UserCache, error) {
	token := bearerToken(c)
	if token == "" || g.services.Users == nil {
		return nil, nil
	}
	return g.services.Users.Authenticate(c.Request.Context(), token)
}

// optionalUser attaches the caller when a valid token is sent and lets anonymous requests through.
func (g *Gateway) optionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := g.authenticate(c)
		if err != nil && !errors.Is(err, service.ErrUnauthorized) {
			g.fail(c, err)
			return
		}
		if user != nil {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

// resolveUser attaches the caller or aborts with 401/403.
func (g *Gateway) resolveUser(c *gin.Context) bool {
	user, err := g.authenticate(c)
	if err != nil {
		g.fail(c, err)
		return false
	}
	if user == nil {
		c.Header("WWW-Authenticate", "Bearer")
		abort(c, http.StatusUnauthorized, "Not authenticated.", nil)
		return false
	}
	c.Set(userKey, user)
	return true
}

func (g *Gateway) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.resolveUser(c) {
			c.Next()
		}
	}
}

func (g *Gateway) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.resolveUser(c) {
			return
		}
		if currentUser(c).Role != string(models.RoleAdmin) {
			abort(c, http.StatusForbidden, "Admin privileges required.", nil)
			return
		}
		c.Next()
	}
}
