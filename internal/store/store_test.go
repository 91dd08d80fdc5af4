package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID        uint   `gorm:"primarykey"`
	Code      string `gorm:"uniqueIndex"`
	Status    string
	ParentID  *uint
	Quantity  int
	CreatedAt time.Time
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "store.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&widget{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return New(db)
}

func TestSelectWithFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := uint(1)

	rows := []widget{
		{Code: "a", Status: "pending", Quantity: 3},
		{Code: "b", Status: "pending", Quantity: 1, ParentID: &parent},
		{Code: "c", Status: "done", Quantity: 2},
	}
	for i := range rows {
		if err := s.Insert(ctx, &rows[i]); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   Filter
		order    string
		expected []string
	}{
		{"equality", Filter{"status": "pending"}, "quantity asc", []string{"b", "a"}},
		{"null match", Filter{"parent_id": nil}, "code asc", []string{"a", "c"}},
		{"in match", Filter{"code": []string{"a", "c"}}, "code desc", []string{"c", "a"}},
		{"operator key", Filter{"quantity >=": 2}, "quantity desc", []string{"a", "c"}},
		{"no filter", nil, "code asc", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []widget
			if err := s.Select(ctx, &got, tt.filter, tt.order); err != nil {
				t.Fatalf("Select() error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Select() returned %d rows; want %d", len(got), len(tt.expected))
			}
			for i, w := range got {
				if w.Code != tt.expected[i] {
					t.Errorf("row %d = %q; want %q", i, w.Code, tt.expected[i])
				}
			}
		})
	}
}

func TestFirstNotFound(t *testing.T) {
	s := newTestStore(t)
	var w widget
	err := s.First(context.Background(), &w, Filter{"code": "missing"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("First() error = %v; want ErrNotFound", err)
	}
}

func TestUpdateIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := widget{Code: "a", Status: "pending"}
	if err := s.Insert(ctx, &w); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	n, err := s.Update(ctx, &widget{}, Filter{"id": w.ID, "status": "pending"}, map[string]interface{}{"status": "done"})
	if err != nil || n != 1 {
		t.Fatalf("first Update() = (%d, %v); want (1, nil)", n, err)
	}

	n, err = s.Update(ctx, &widget{}, Filter{"id": w.ID, "status": "pending"}, map[string]interface{}{"status": "failed"})
	if err != nil || n != 0 {
		t.Fatalf("second Update() = (%d, %v); want (0, nil)", n, err)
	}

	var got widget
	if err := s.First(ctx, &got, Filter{"id": w.ID}, ""); err != nil {
		t.Fatalf("First() error: %v", err)
	}
	if got.Status != "done" {
		t.Errorf("status = %q; want done", got.Status)
	}

	if _, err := s.Update(ctx, &widget{}, nil, map[string]interface{}{"status": "x"}); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("Update() without filter error = %v; want ErrEmptyFilter", err)
	}
}

func TestUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Upsert(ctx, &widget{Code: "a", Status: "pending", Quantity: 1}, []string{"code"})
	if err != nil || n != 1 {
		t.Fatalf("first Upsert() = (%d, %v); want (1, nil)", n, err)
	}

	n, err = s.Upsert(ctx, &widget{Code: "a", Status: "other", Quantity: 9}, []string{"code"})
	if err != nil || n != 0 {
		t.Fatalf("do-nothing Upsert() = (%d, %v); want (0, nil)", n, err)
	}

	if _, err := s.Upsert(ctx, &widget{Code: "a", Quantity: 5}, []string{"code"}, "quantity"); err != nil {
		t.Fatalf("updating Upsert() error: %v", err)
	}

	var all []widget
	if err := s.Select(ctx, &all, nil, ""); err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single row, got %d", len(all))
	}
	if all[0].Status != "pending" || all[0].Quantity != 5 {
		t.Errorf("row = %+v; want status pending and quantity 5", all[0])
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, code := range []string{"a", "b"} {
		if err := s.Insert(ctx, &widget{Code: code}); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}

	n, err := s.Delete(ctx, &widget{}, Filter{"code": "a"})
	if err != nil || n != 1 {
		t.Fatalf("Delete() = (%d, %v); want (1, nil)", n, err)
	}
	if _, err := s.Delete(ctx, &widget{}, Filter{}); !errors.Is(err, ErrEmptyFilter) {
		t.Errorf("Delete() without filter error = %v; want ErrEmptyFilter", err)
	}

	var rest []widget
	if err := s.Select(ctx, &rest, nil, ""); err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if len(rest) != 1 || rest[0].Code != "b" {
		t.Errorf("remaining rows = %+v; want only b", rest)
	}
}
