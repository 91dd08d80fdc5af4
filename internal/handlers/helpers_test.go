package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"coursemarket_echo/internal/logger"
	authMiddleware "coursemarket_echo/internal/middleware"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

// stubGateway answers sessions with the transaction id (or a fixed session
// id) and callbacks with whatever the test sets
type stubGateway struct {
	mu        sync.Mutex
	name      string
	sessionID string
	callback  *services.CallbackResult
	verify    *services.VerifyResult
}

func (g *stubGateway) Name() string                 { return g.name }
func (g *stubGateway) Method() models.PaymentMethod { return models.PaymentMethodCardRail }

func (g *stubGateway) CreateSession(ctx context.Context, req services.SessionRequest) (*services.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := req.TransactionID
	if g.sessionID != "" {
		id = g.sessionID
	}
	return &services.Session{SessionID: id, RedirectURL: "https://pay.example.com/" + id}, nil
}

func (g *stubGateway) Verify(ctx context.Context, sessionID string) (*services.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verify == nil {
		return &services.VerifyResult{Success: true, Status: models.PaymentStatusPending}, nil
	}
	res := *g.verify
	return &res, nil
}

func (g *stubGateway) ParseCallback(ctx context.Context, payload services.CallbackPayload) (*services.CallbackResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.callback == nil {
		return nil, &services.ValidationError{Field: "signature", Message: "callback rejected"}
	}
	res := *g.callback
	return &res, nil
}

func (g *stubGateway) setCallback(cb services.CallbackResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callback = &cb
}

type testApp struct {
	e       *echo.Echo
	store   *store.GormStore
	gateway *stubGateway
	bkash   *stubGateway
}

// testAuth trusts the X-Test-UID header as the Firebase uid
func testAuth(required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := c.Request().Header.Get("X-Test-UID")
			if uid == "" && required {
				return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
			}
			if uid != "" {
				c.Set("userUID", uid)
			}
			return next(c)
		}
	}
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "handlers.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	st := store.New(db)
	log := logger.Nop()

	gw := &stubGateway{name: "stub"}
	bkash := &stubGateway{name: services.GatewayBKash, sessionID: "BK-1"}
	gateways := map[string]services.PaymentGateway{"stub": gw, services.GatewayBKash: bkash}

	payments := services.NewPaymentService(st, gateways, gw, "https://app.example.com", 2*time.Second, nil, log)
	enrollments := services.NewEnrollmentService(st, payments, nil, log)
	courses := services.NewCourseService(st, nil, time.Minute, log)

	e := echo.New()
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = authMiddleware.NewErrorHandler(log)
	Register(e, Handlers{
		Auth:     NewAuthHandler(nil, st, false),
		Courses:  NewCourseHandler(st, courses, enrollments),
		Payments: NewPaymentHandler(st, payments, 5*time.Second, log),
	}, testAuth(true), testAuth(false))

	return &testApp{e: e, store: st, gateway: gw, bkash: bkash}
}

func (a *testApp) do(t *testing.T, method, target, uid string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if uid != "" {
		req.Header.Set("X-Test-UID", uid)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) postJSON(t *testing.T, target, uid string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return a.do(t, http.MethodPost, target, uid, bytes.NewReader(b), echo.MIMEApplicationJSON)
}

func (a *testApp) seedUser(t *testing.T, uid string) models.User {
	t.Helper()
	u := models.User{FirebaseUID: uid, Name: "Student " + uid, Email: uid + "@example.com", Role: models.UserRoleStudent}
	if err := a.store.Insert(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func (a *testApp) seedCourse(t *testing.T, title string, price int64) models.Course {
	t.Helper()
	c := models.Course{InstructorID: 1, Title: title, Price: decimal.NewFromInt(price), Currency: "BDT", IsPublished: true}
	if err := a.store.Insert(context.Background(), &c); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return c
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}
