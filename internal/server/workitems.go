package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/autopress/autopress/internal/pipeline"
	"github.com/labstack/echo/v4"
)

type workItemsHandler struct {
	orch  *pipeline.Orchestrator
	store pipeline.Store
}

func (h *workItemsHandler) register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/retry", h.retry)
	g.POST("/:id/cancel", h.cancel)
}

type createWorkItemRequest struct {
	Topic               string    `json:"topic"`
	Language            string    `json:"language"`
	Country             string    `json:"country"`
	TargetWordCount     int       `json:"target_word_count"`
	AvailableCategories []string  `json:"available_categories"`
	DueAt               time.Time `json:"due_at"`
	Cron                string    `json:"cron"`
}

func (h *workItemsHandler) create(c echo.Context) error {
	var req createWorkItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}
	item := pipeline.WorkItem{
		Topic:               strings.TrimSpace(req.Topic),
		Language:            req.Language,
		Country:             req.Country,
		TargetWordCount:     req.TargetWordCount,
		AvailableCategories: req.AvailableCategories,
		DueAt:               req.DueAt,
		Cron:                req.Cron,
	}
	id, err := h.orch.Submit(c.Request().Context(), &item)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *workItemsHandler) get(c echo.Context) error {
	id := c.Param("id")
	item, err := h.orch.Status(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	results, err := h.store.StageResults(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"work_item":     item,
		"stage_results": results,
	})
}

func (h *workItemsHandler) retry(c echo.Context) error {
	id := c.Param("id")
	if err := h.orch.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	item, err := h.orch.Status(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func (h *workItemsHandler) cancel(c echo.Context) error {
	id := c.Param("id")
	if h.orch.Cancel(id) {
		return c.JSON(http.StatusOK, map[string]string{"id": id, "cancelled": "inflight"})
	}
	// Not running right now; nothing to interrupt.
	item, err := h.orch.Status(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusAccepted, item)
}
