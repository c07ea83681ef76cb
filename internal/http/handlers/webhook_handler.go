package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-payments/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-payments/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

// WebhookHandler принимает события платёжного шлюза.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Handle POST /webhooks/gateway
//
// Контракт со шлюзом: 4xx только при невалидной подписи или нечитаемом
// payload — такие доставки переигрывать бессмысленно. Ошибка обработки
// подтверждается 200: событие уже записано как failed, и бесконечные
// повторы шлюза ничего не исправят.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	signature := c.GetHeader("Stripe-Signature")

	if err := h.webhooks.HandleEvent(c.Request.Context(), payload, signature); err != nil {
		if apperror.IsSignature(err) || apperror.IsValidation(err) {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "processed": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
