package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kpataki/klaragw/internal/gateway"
	"github.com/kpataki/klaragw/internal/repository"
)

type StatusHandler struct {
	gw        *gateway.Gateway
	calls     *repository.CallRepository
	reminders *repository.ReminderRepository
}

func NewStatusHandler(gw *gateway.Gateway, calls *repository.CallRepository, reminders *repository.ReminderRepository) *StatusHandler {
	return &StatusHandler{gw: gw, calls: calls, reminders: reminders}
}

func (h *StatusHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", h.GetStatus)
		v1.GET("/calls", h.ListCalls)
		v1.GET("/reminders", h.ListReminders)
	}
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.gw.Status())
}

func (h *StatusHandler) ListCalls(c *gin.Context) {
	limit := parseLimit(c, 50)
	records, err := h.calls.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h *StatusHandler) ListReminders(c *gin.Context) {
	limit := parseLimit(c, 50)
	reminders, err := h.reminders.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func parseLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
