package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "services.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store.New(db)
}

func seedUser(t *testing.T, st store.Store, uid string) models.User {
	t.Helper()
	u := models.User{FirebaseUID: uid, Name: "Student " + uid, Email: uid + "@example.com", Phone: "01700000000", Role: models.UserRoleStudent}
	if err := st.Insert(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedCourse(t *testing.T, st store.Store, title string, price int64, discounted *int64, published bool) models.Course {
	t.Helper()
	c := models.Course{
		InstructorID: 1,
		Title:        title,
		Price:        decimal.NewFromInt(price),
		Currency:     "BDT",
		IsPublished:  published,
	}
	if discounted != nil {
		c.DiscountedPrice = decimal.NewNullDecimal(decimal.NewFromInt(*discounted))
	}
	if err := st.Insert(context.Background(), &c); err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return c
}

func countRows(t *testing.T, st store.Store, dest interface{}, filter store.Filter) {
	t.Helper()
	if err := st.Select(context.Background(), dest, filter, "id asc"); err != nil {
		t.Fatalf("select: %v", err)
	}
}

// fakeGateway is a scriptable PaymentGateway
type fakeGateway struct {
	mu           sync.Mutex
	sessionErr   error
	sessionID    string
	verifyResult *VerifyResult
	verifyErr    error
	callback     *CallbackResult
	callbackErr  error
	verifyCalls  int
	sessions     []SessionRequest
}

func (f *fakeGateway) Name() string                 { return "fake" }
func (f *fakeGateway) Method() models.PaymentMethod { return models.PaymentMethodCardRail }

func (f *fakeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, req)
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	id := req.TransactionID
	if f.sessionID != "" {
		id = f.sessionID
	}
	return &Session{
		SessionID:   id,
		RedirectURL: "https://gateway.example.com/pay/" + id,
		Request:     map[string]string{"tran_id": req.TransactionID},
		Response:    map[string]string{"status": "SUCCESS"},
	}, nil
}

func (f *fakeGateway) Verify(ctx context.Context, sessionID string) (*VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	if f.verifyResult == nil {
		return &VerifyResult{Success: true, Status: models.PaymentStatusPending}, nil
	}
	res := *f.verifyResult
	return &res, nil
}

func (f *fakeGateway) ParseCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	res := *f.callback
	return &res, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

type recordingFollowUps struct {
	mu       sync.Mutex
	repairs  [][2]uint
	receipts []uint
}

func (r *recordingFollowUps) FreePaymentRepair(ctx context.Context, courseID, studentID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairs = append(r.repairs, [2]uint{courseID, studentID})
	return nil
}

func (r *recordingFollowUps) EnrollmentReceipt(ctx context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, enrollment.ID)
	return nil
}

// failingPaymentStore fails every Payment upsert, leaving other writes alone
type failingPaymentStore struct {
	store.Store
}

func (s failingPaymentStore) Upsert(ctx context.Context, row interface{}, conflictKey []string, updateColumns ...string) (int64, error) {
	if _, ok := row.(*models.Payment); ok {
		return 0, errors.New("connection reset")
	}
	return s.Store.Upsert(ctx, row, conflictKey, updateColumns...)
}

type testServices struct {
	store       *store.GormStore
	gateway     *fakeGateway
	followUps   *recordingFollowUps
	payments    *PaymentService
	enrollments *EnrollmentService
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	st := newTestStore(t)
	gw := &fakeGateway{}
	fu := &recordingFollowUps{}
	payments := NewPaymentService(st, map[string]PaymentGateway{"fake": gw}, gw, "https://app.example.com", 2*time.Second, fu, logger.Nop())
	return &testServices{
		store:       st,
		gateway:     gw,
		followUps:   fu,
		payments:    payments,
		enrollments: NewEnrollmentService(st, payments, fu, logger.Nop()),
	}
}
