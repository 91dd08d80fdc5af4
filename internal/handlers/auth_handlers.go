package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

const sessionDuration = time.Hour * 24 * 5

// SessionIssuer is the part of the Firebase auth client used to log in
type SessionIssuer interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authClient   SessionIssuer
	store        store.Store
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. authClient may be nil when
// Firebase is not configured.
func NewAuthHandler(authClient SessionIssuer, st store.Store, secureCookie bool) *AuthHandler {
	return &AuthHandler{authClient: authClient, store: st, secureCookie: secureCookie}
}

// HandleLogin verifies the Firebase ID token, makes sure a local profile
// exists and creates a session cookie
func (h *AuthHandler) HandleLogin(c echo.Context) error {
	if h.authClient == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Firebase not initialized")
	}

	// Get ID Token from Authorization Header
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "Missing authorization header")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
	}

	ctx := c.Request().Context()
	token, err := h.authClient.VerifyIDToken(ctx, tokenString)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
	}

	user, err := h.syncProfile(ctx, token)
	if err != nil {
		return err
	}

	cookieValue, err := h.authClient.SessionCookie(ctx, tokenString, sessionDuration)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}

	c.SetCookie(&http.Cookie{
		Name:     "session",
		Value:    cookieValue,
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "success",
		"user":   user,
	})
}

// syncProfile upserts the local user keyed by Firebase UID, refreshing the
// email and display name from the token
func (h *AuthHandler) syncProfile(ctx context.Context, token *auth.Token) (*models.User, error) {
	user := &models.User{FirebaseUID: token.UID, Role: models.UserRoleStudent}
	if email, ok := token.Claims["email"].(string); ok {
		user.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		user.Name = name
	}

	if _, err := h.store.Upsert(ctx, user, []string{"firebase_uid"}, "email", "name", "updated_at"); err != nil {
		return nil, err
	}

	var saved models.User
	if err := h.store.First(ctx, &saved, store.Filter{"firebase_uid": token.UID}, ""); err != nil {
		return nil, err
	}
	return &saved, nil
}

// HandleLogout clears the session cookie
func (h *AuthHandler) HandleLogout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     "session",
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Path:     "/",
	})

	return c.JSON(http.StatusOK, map[string]string{
		"status": "logged out",
	})
}
