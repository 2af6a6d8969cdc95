package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/raideye/raideye/internal/stats"
)

// StatusHandler exposes bot runtime counters.
type StatusHandler struct {
	collector *stats.Collector
	logger    *slog.Logger
}

func NewStatusHandler(log *slog.Logger, collector *stats.Collector) *StatusHandler {
	return &StatusHandler{
		collector: collector,
		logger:    log.With(slog.String("handler", "status")),
	}
}

func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

func (h *StatusHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.collector.Snapshot())
}
