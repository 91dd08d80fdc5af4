package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"coursemarket_echo/internal/services"
	"coursemarket_echo/internal/store"
)

// CourseHandler serves the learner view of a course and the enroll action
type CourseHandler struct {
	store       store.Store
	courses     *services.CourseService
	enrollments *services.EnrollmentService
}

func NewCourseHandler(st store.Store, courses *services.CourseService, enrollments *services.EnrollmentService) *CourseHandler {
	return &CourseHandler{store: st, courses: courses, enrollments: enrollments}
}

// Content returns the lesson tree of a course with locked items withheld
func (h *CourseHandler) Content(c echo.Context) error {
	courseID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var viewerID uint
	user, err := currentUser(c, h.store)
	if err != nil {
		return err
	}
	if user != nil {
		viewerID = user.ID
	}

	tree, err := h.courses.ContentTree(c.Request().Context(), courseID, viewerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

// Enroll starts a free enrollment or a paid checkout
func (h *CourseHandler) Enroll(c echo.Context) error {
	courseID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}
	user, err := requireProfile(c, h.store)
	if err != nil {
		return err
	}

	result, err := h.enrollments.Enroll(c.Request().Context(), user.ID, courseID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// EnrollSuccess is the landing route of a free enrollment
func (h *CourseHandler) EnrollSuccess(c echo.Context) error {
	title := c.QueryParam("course")
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "enrolled",
		"course":  title,
		"message": "You are now enrolled in " + title + ".",
	})
}
