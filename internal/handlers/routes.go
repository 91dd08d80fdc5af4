package handlers

import (
	"github.com/labstack/echo/v4"
)

// Handlers groups every HTTP handler the server mounts
type Handlers struct {
	Auth     *AuthHandler
	Courses  *CourseHandler
	Payments *PaymentHandler
}

// Register mounts the public, gateway-facing and authenticated routes
func Register(e *echo.Echo, h Handlers, requireAuth, optionalAuth echo.MiddlewareFunc) {
	// Auth
	e.POST("/auth/login", h.Auth.HandleLogin)
	e.POST("/auth/logout", h.Auth.HandleLogout)

	// Gateway callbacks carry no user session
	e.POST("/payment/ipn/:gateway", h.Payments.GatewayCallback)
	e.GET("/payment/callback/bkash", h.Payments.BKashCallback)

	// Browser landing routes
	e.Match([]string{"GET", "POST"}, "/payment/success", h.Payments.PaymentSuccess)
	e.Match([]string{"GET", "POST"}, "/payment/failed", h.Payments.PaymentFailed)
	e.Match([]string{"GET", "POST"}, "/payment/cancel", h.Payments.PaymentFailed)
	e.GET("/success", h.Courses.EnrollSuccess)

	api := e.Group("/api")
	api.GET("/courses/:id/content", h.Courses.Content, optionalAuth)

	protected := api.Group("")
	protected.Use(requireAuth)
	protected.POST("/courses/:id/enroll", h.Courses.Enroll)
	protected.POST("/payments/verify", h.Payments.Verify)
	protected.GET("/payments/:tran_id", h.Payments.Status)
}
