// Package store is the generic CRUD data service the purchase pipeline runs on.
// Every call is a single statement; callers get idempotency from conditional
// updates and conflict-keyed upserts rather than multi-table transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned by First when no row matches
	ErrNotFound = errors.New("record not found")
	// ErrEmptyFilter guards Update and Delete against touching a whole table
	ErrEmptyFilter = errors.New("refusing to run without a filter")
)

// Filter maps column names to values. A plain key is an equality match
// (nil matches NULL, slices match IN). A key carrying an operator, such as
// "created_at <", is used as the left-hand side of the condition.
type Filter map[string]interface{}

// Store is the set of operations consumed from the relational store
type Store interface {
	Select(ctx context.Context, dest interface{}, filter Filter, order string) error
	First(ctx context.Context, dest interface{}, filter Filter, order string) error
	Insert(ctx context.Context, row interface{}) error
	Update(ctx context.Context, model interface{}, filter Filter, patch map[string]interface{}) (int64, error)
	Upsert(ctx context.Context, row interface{}, conflictKey []string, updateColumns ...string) (int64, error)
	Delete(ctx context.Context, model interface{}, filter Filter) (int64, error)
}

// GormStore implements Store on top of a *gorm.DB
type GormStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying connection for migrations
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Select loads every matching row into dest (a pointer to a slice)
func (s *GormStore) Select(ctx context.Context, dest interface{}, filter Filter, order string) error {
	q := applyFilter(s.db.WithContext(ctx), filter)
	if order != "" {
		q = q.Order(order)
	}
	return q.Find(dest).Error
}

// First loads the first matching row into dest (a pointer to a struct)
func (s *GormStore) First(ctx context.Context, dest interface{}, filter Filter, order string) error {
	q := applyFilter(s.db.WithContext(ctx), filter)
	if order != "" {
		q = q.Order(order)
	}
	err := q.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) Insert(ctx context.Context, row interface{}) error {
	return s.db.WithContext(ctx).Create(row).Error
}

// Update applies patch to every row of model's table matching filter and
// returns the number of rows changed. Putting the expected current status in
// the filter turns this into a compare-and-set.
func (s *GormStore) Update(ctx context.Context, model interface{}, filter Filter, patch map[string]interface{}) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("update: %w", ErrEmptyFilter)
	}
	res := applyFilter(s.db.WithContext(ctx).Model(model), filter).Updates(patch)
	return res.RowsAffected, res.Error
}

// Upsert inserts row, resolving a conflict on conflictKey by updating
// updateColumns, or by doing nothing when none are given. The returned count
// is zero when an existing row was left untouched.
func (s *GormStore) Upsert(ctx context.Context, row interface{}, conflictKey []string, updateColumns ...string) (int64, error) {
	onConflict := clause.OnConflict{}
	for _, col := range conflictKey {
		onConflict.Columns = append(onConflict.Columns, clause.Column{Name: col})
	}
	if len(updateColumns) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	}
	res := s.db.WithContext(ctx).Clauses(onConflict).Create(row)
	return res.RowsAffected, res.Error
}

func (s *GormStore) Delete(ctx context.Context, model interface{}, filter Filter) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("delete: %w", ErrEmptyFilter)
	}
	res := applyFilter(s.db.WithContext(ctx), filter).Delete(model)
	return res.RowsAffected, res.Error
}

func applyFilter(q *gorm.DB, filter Filter) *gorm.DB {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filter[key]
		if strings.ContainsAny(key, " <>=!") {
			q = q.Where(key+" ?", value)
			continue
		}
		q = q.Where(clause.Eq{Column: clause.Column{Name: key}, Value: value})
	}
	return q
}
