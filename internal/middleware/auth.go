package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

// TokenVerifier is the part of the Firebase auth client the middleware needs
type TokenVerifier interface {
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// RequireAuth rejects requests without a valid Firebase session cookie or
// bearer ID token
func RequireAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
			}

			token, err := verify(c, verifier)
			if err != nil || token == nil {
				if err != nil {
					clearSessionCookie(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
			}

			setUser(c, token)
			return next(c)
		}
	}
}

// OptionalAuth identifies the user when credentials are present and lets
// anonymous requests through
func OptionalAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier != nil {
				if token, err := verify(c, verifier); err == nil && token != nil {
					setUser(c, token)
				}
			}
			return next(c)
		}
	}
}

func verify(c echo.Context, verifier TokenVerifier) (*auth.Token, error) {
	ctx := c.Request().Context()

	if header := c.Request().Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return verifier.VerifyIDToken(ctx, strings.TrimPrefix(header, "Bearer "))
	}

	cookie, err := c.Cookie("session")
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return verifier.VerifySessionCookie(ctx, cookie.Value)
}

func setUser(c echo.Context, token *auth.Token) {
	c.Set("userUID", token.UID)
	if email, ok := token.Claims["email"].(string); ok {
		c.Set("userEmail", email)
	}
	if name, ok := token.Claims["name"].(string); ok {
		c.Set("userName", name)
	}
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     "session",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})
}
