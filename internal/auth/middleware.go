package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieName carries the admin token in browsers.
const CookieName = "rollcall_admin"

const claimsKey = "claims"

// Gate authorises admin requests by shared code or signed token.
type Gate struct {
	code   string
	key    string
	issuer string
	ttl    time.Duration
	secure bool
}

func NewGate(code, signingKey, issuer string, ttl time.Duration, secureCookie bool) *Gate {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Gate{code: code, key: signingKey, issuer: issuer, ttl: ttl, secure: secureCookie}
}

// Login checks code and, on success, sets the admin cookie.
func (g *Gate) Login(c *gin.Context, code string) bool {
	if !CodeMatches(strings.TrimSpace(code), g.code) {
		return false
	}
	token, exp, err := Issue(RoleAdmin, RoleAdmin, g.issuer, g.key, g.ttl)
	if err != nil {
		_ = c.Error(err)
		return false
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(time.Until(exp).Seconds()), "/", "", g.secure, true)
	return true
}

func (g *Gate) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", g.secure, true)
}

// IsAdmin reports whether the request carries the admin code or a valid admin token.
func (g *Gate) IsAdmin(c *gin.Context) bool {
	if _, ok := c.Get(claimsKey); ok {
		return true
	}
	code := c.PostForm("code")
	if code == "" {
		code = c.Query("code")
	}
	if code != "" && CodeMatches(strings.TrimSpace(code), g.code) {
		return true
	}
	for _, token := range g.tokens(c) {
		claims, err := Parse(token, g.key, g.issuer)
		if err == nil && claims.Role == RoleAdmin {
			c.Set(claimsKey, claims)
			return true
		}
	}
	return false
}

func (g *Gate) tokens(c *gin.Context) []string {
	var out []string
	if authz := c.GetHeader("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		out = append(out, strings.TrimSpace(authz[7:]))
	}
	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		out = append(out, cookie)
	}
	return out
}

// Require aborts with 403 unless the request is from an admin.
func (g *Gate) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.IsAdmin(c) {
			c.String(http.StatusForbidden, "Forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}
