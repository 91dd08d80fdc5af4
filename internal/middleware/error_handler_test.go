package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

func TestErrorHandlerMapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  int
		state string
		field string
	}{
		{"echo http error", echo.NewHTTPError(http.StatusUnauthorized, "Please log in"), http.StatusUnauthorized, "", ""},
		{"validation", fmt.Errorf("enroll: %w", &services.ValidationError{Field: "course", Message: "course is not published"}), http.StatusUnprocessableEntity, "", "course"},
		{"not found", fmt.Errorf("payment x: %w", store.ErrNotFound), http.StatusNotFound, "", ""},
		{"gateway timeout", fmt.Errorf("verify: %w", services.ErrGatewayTimeout), http.StatusServiceUnavailable, "processing", ""},
		{"session error", &services.GatewaySessionError{Gateway: "bkash", Reason: "rejected"}, http.StatusServiceUnavailable, "processing", ""},
		{"transition", models.ValidatePaymentTransition(models.PaymentStatusFailed, models.PaymentStatusCompleted), http.StatusConflict, "", ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			NewErrorHandler(logger.Nop())(tt.err, c)

			if rec.Code != tt.code {
				t.Errorf("status = %d; want %d", rec.Code, tt.code)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json body: %v", err)
			}
			if body.State != tt.state || body.Field != tt.field {
				t.Errorf("body = %+v; want state %q field %q", body, tt.state, tt.field)
			}
			if body.Error == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}
