package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-payments/internal/dto"
	"github.com/ignatzorin/freelance-payments/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-payments/internal/scheduler"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

// AdminHandler — ручные триггеры фоновых задач. Доступен только роли admin:
// полезен при инцидентах, когда ждать следующего тика планировщика нельзя.
type AdminHandler struct {
	scheduler *scheduler.Scheduler
	webhooks  *service.WebhookService
}

func NewAdminHandler(s *scheduler.Scheduler, webhooks *service.WebhookService) *AdminHandler {
	return &AdminHandler{scheduler: s, webhooks: webhooks}
}

// RequireAdmin пропускает дальше только пользователей с ролью admin.
func RequireAdmin(c *gin.Context) {
	role, err := common.CurrentUserRole(c)
	if err != nil || role != "admin" {
		common.RespondForbidden(c, "требуется роль администратора")
		c.Abort()
		return
	}
	c.Next()
}

// RunAutoRelease POST /admin/sweeps/auto-release
func (h *AdminHandler) RunAutoRelease(c *gin.Context) {
	released, failed := h.scheduler.RunAutoRelease(c.Request.Context())
	c.JSON(http.StatusOK, dto.SweepResponse{Processed: released, Failed: failed})
}

// RunStuckSweep POST /admin/sweeps/stuck
func (h *AdminHandler) RunStuckSweep(c *gin.Context) {
	cancelled, failed := h.scheduler.RunStuckSweep(c.Request.Context())
	c.JSON(http.StatusOK, dto.SweepResponse{Processed: cancelled, Failed: failed})
}

// RunWebhookMaintenance POST /admin/sweeps/webhooks
func (h *AdminHandler) RunWebhookMaintenance(c *gin.Context) {
	h.scheduler.RunWebhookMaintenance(c.Request.Context())
	common.RespondSuccess(c, http.StatusOK, "обслуживание webhook событий выполнено", nil)
}

// StuckWebhooks GET /admin/webhooks/stuck
func (h *AdminHandler) StuckWebhooks(c *gin.Context) {
	hours := common.ParseIntQuery(c, "older_than_hours", 1)
	limit := common.ParseIntQuery(c, "limit", 100)

	events, err := h.webhooks.ListStuckEvents(c.Request.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
