package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echo "github.com/labstack/echo/v5"
)

// tokenCookieName is the same-token cookie fallback spec.md §6 names
// alongside the bearer header, for browser clients that can't set an
// Authorization header on an EventSource SSE request.
const tokenCookieName = "tarsy_token"

// sessionClaims is the JWT payload this service expects, carrying the
// caller's identity for Session.Author and chat/score attribution.
type sessionClaims struct {
	jwt.RegisteredClaims
	Login string   `json:"login"`
	Email string   `json:"email"`
	Orgs  []string `json:"orgs,omitempty"`
}

// OrgValidator restricts which GitHub organizations a validated token's
// caller must belong to. A real implementation (calling the GitHub API to
// confirm org membership) is explicitly out of scope — this is a
// contract-only interface so pkg/httpapi can be exercised and tested
// without a live GitHub dependency.
type OrgValidator interface {
	IsMember(login string, orgs []string) bool
}

// Authenticator validates bearer JWT RS256 tokens (or the same token
// carried in a cookie) per spec.md §6, and extracts the caller identity
// used as Session.Author / chat/score ScoreTriggeredBy.
type Authenticator struct {
	parser       *jwt.Parser
	keyFunc      jwt.Keyfunc
	requiredOrgs []string
	orgValidator OrgValidator
}

// NewAuthenticator builds an Authenticator that verifies tokens with
// keyFunc (ordinarily returning an *rsa.PublicKey for RS256), optionally
// restricting callers to requiredOrgs via validator.
func NewAuthenticator(keyFunc jwt.Keyfunc, requiredOrgs []string, validator OrgValidator) *Authenticator {
	return &Authenticator{
		parser:       jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyFunc:      keyFunc,
		requiredOrgs: requiredOrgs,
		orgValidator: validator,
	}
}

// Identity is the caller identity extracted from a validated token.
type Identity struct {
	Login string
	Email string
}

const identityContextKey = "tarsy_identity"

// Middleware returns echo middleware that validates the bearer token (or
// same-token cookie fallback) on every request in the group it's attached
// to, rejecting with 401 on any failure.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			raw, err := a.extractToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			identity, err := a.validate(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set(identityContextKey, identity)
			return next(c)
		}
	}
}

// extractToken reads the bearer token from the Authorization header, or
// falls back to the tarsy_token cookie — spec.md §6's "bearer JWT RS256 or
// same-token cookie" contract, grounding EventSource-based SSE clients
// that cannot set custom request headers.
func (a *Authenticator) extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("authorization header must be \"Bearer <token>\"")
		}
		return parts[1], nil
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.New("missing bearer token")
}

func (a *Authenticator) validate(raw string) (*Identity, error) {
	var claims sessionClaims
	token, err := a.parser.ParseWithClaims(raw, &claims, a.keyFunc)
	if err != nil || !token.Valid {
		return nil, errors.New("token validation failed")
	}

	if len(a.requiredOrgs) > 0 {
		if a.orgValidator == nil || !a.orgValidator.IsMember(claims.Login, a.requiredOrgs) {
			return nil, errors.New("caller is not a member of a required organization")
		}
	}

	return &Identity{Login: claims.Login, Email: claims.Email}, nil
}

// identityFromContext extracts the caller identity set by Middleware, or
// the "api-client" default the teacher's extractAuthor falls back to when
// auth is disabled (local dev, tests).
func identityFromContext(c *echo.Context) string {
	if v := c.Get(identityContextKey); v != nil {
		if id, ok := v.(*Identity); ok {
			if id.Login != "" {
				return id.Login
			}
			if id.Email != "" {
				return id.Email
			}
		}
	}
	return "api-client"
}
