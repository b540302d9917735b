package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/coursecompass/internal/catalog"
)

type courseHandlers struct {
	catalog catalog.Store
}

// CourseRequest is the create/update body for a course.
type CourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Instructor  string `json:"instructor"`
}

func (h *courseHandlers) list(c echo.Context) error {
	courses, err := h.catalog.List(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list courses")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Server error"})
	}
	if courses == nil {
		courses = []catalog.Course{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"courses": courses,
	})
}

func (h *courseHandlers) get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid course id"})
	}

	course, err := h.catalog.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "Course not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"course":  course,
	})
}

func (h *courseHandlers) create(c echo.Context) error {
	var body CourseRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
	}
	if strings.TrimSpace(body.Title) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Please provide a course title"})
	}
	if strings.TrimSpace(body.Description) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Please provide a course description"})
	}

	course := &catalog.Course{
		Title:       body.Title,
		Description: body.Description,
		Instructor:  body.Instructor,
	}
	if err := h.catalog.Create(c.Request().Context(), course); err != nil {
		log.Error().Err(err).Msg("Failed to create course")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "Server error"})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"course":  course,
	})
}

func (h *courseHandlers) update(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid course id"})
	}

	var body CourseRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
	}
	if strings.TrimSpace(body.Title) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Please provide a course title"})
	}

	course := &catalog.Course{
		ID:          id,
		Title:       body.Title,
		Description: body.Description,
		Instructor:  body.Instructor,
	}
	if err := h.catalog.Update(c.Request().Context(), course); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "Course not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"course":  course,
	})
}

func (h *courseHandlers) delete(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid course id"})
	}

	if err := h.catalog.Delete(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "Course not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
