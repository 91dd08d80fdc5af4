package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"coursemarket_echo/internal/logger"
	"coursemarket_echo/internal/models"
	"coursemarket_echo/internal/store"
)

// CourseOutline is the viewer-independent part of a course, safe to cache
type CourseOutline struct {
	Lessons   []models.Lesson   `json:"lessons"`
	Materials []models.Material `json:"materials"`
}

type CourseService struct {
	store    store.Store
	cache    *RedisCache
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewCourseService builds the service. cache may be nil.
func NewCourseService(st store.Store, cache *RedisCache, cacheTTL time.Duration, log *logger.Logger) *CourseService {
	return &CourseService{store: st, cache: cache, cacheTTL: cacheTTL, log: log}
}

func outlineCacheKey(courseID uint) string {
	return fmt.Sprintf("course:%d:outline", courseID)
}

// ContentTree loads the course, its outline and the viewer's enrollment in
// parallel and builds the tree for that viewer. viewerID 0 is anonymous.
func (s *CourseService) ContentTree(ctx context.Context, courseID, viewerID uint) (*ContentTree, error) {
	var (
		course     models.Course
		outline    CourseOutline
		enrollment *models.Enrollment
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.store.First(gctx, &course, store.Filter{"id": courseID}, ""); err != nil {
			return fmt.Errorf("load course %d: %w", courseID, err)
		}
		return nil
	})

	g.Go(func() error {
		var err error
		outline, err = GetOrSet(s.cache, gctx, outlineCacheKey(courseID), s.cacheTTL, func() (CourseOutline, error) {
			return s.loadOutline(gctx, courseID)
		})
		return err
	})

	if viewerID != 0 {
		g.Go(func() error {
			var e models.Enrollment
			err := s.store.First(gctx, &e, store.Filter{"course_id": courseID, "student_id": viewerID}, "")
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load enrollment: %w", err)
			}
			enrollment = &e
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return BuildContentTree(course.ID, outline.Lessons, outline.Materials, enrollment), nil
}

func (s *CourseService) loadOutline(ctx context.Context, courseID uint) (CourseOutline, error) {
	var outline CourseOutline
	if err := s.store.Select(ctx, &outline.Lessons, store.Filter{"course_id": courseID}, "id asc"); err != nil {
		return outline, fmt.Errorf("load lessons: %w", err)
	}
	if err := s.store.Select(ctx, &outline.Materials, store.Filter{"course_id": courseID}, "id asc"); err != nil {
		return outline, fmt.Errorf("load materials: %w", err)
	}
	return outline, nil
}
