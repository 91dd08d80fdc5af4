package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

// Helper to safely get string from context
func getStringFromContext(c echo.Context, key string) string {
	val := c.Get(key)
	if val == nil {
		return ""
	}
	strVal, ok := val.(string)
	if !ok {
		return ""
	}
	return strVal
}

// currentUser resolves the authenticated Firebase identity to its local
// profile. It returns nil for anonymous requests and unknown identities.
func currentUser(c echo.Context, st store.Store) (*models.User, error) {
	uid := getStringFromContext(c, "userUID")
	if uid == "" {
		return nil, nil
	}
	var user models.User
	err := st.First(c.Request().Context(), &user, store.Filter{"firebase_uid": uid}, "")
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// requireProfile is currentUser for routes that cannot work without one
func requireProfile(c echo.Context, st store.Store) (*models.User, error) {
	user, err := currentUser(c, st)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &services.ValidationError{Field: "profile", Message: "student profile not found"}
	}
	return user, nil
}

func parseIDParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return uint(id), nil
}

func parseUintValue(raw string) uint {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}
