package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-payments/internal/dto"
	"github.com/ignatzorin/freelance-payments/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

// PaymentHandler — HTTP поверхность escrow ledger'а.
type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Create POST /payments
func (h *PaymentHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payeeID, err := uuid.Parse(req.PayeeID)
	if err != nil {
		common.RespondBadRequest(c, "неверный payee_id")
		return
	}
	contractID, err := uuid.Parse(req.ContractID)
	if err != nil {
		common.RespondBadRequest(c, "неверный contract_id")
		return
	}

	var milestoneID *uuid.UUID
	if req.MilestoneID != nil {
		parsed, err := uuid.Parse(*req.MilestoneID)
		if err != nil {
			common.RespondBadRequest(c, "неверный milestone_id")
			return
		}
		milestoneID = &parsed
	}

	payment, clientSecret, err := h.payments.CreatePayment(c.Request.Context(), service.CreatePaymentParams{
		PayerID:          userID,
		PayeeID:          payeeID,
		ContractID:       contractID,
		MilestoneID:      milestoneID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		AutoRelease:      req.AutoRelease,
		AutoReleaseAfter: time.Duration(req.AutoReleaseHours) * time.Hour,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreatePaymentResponse{
		Payment:      payment,
		ClientSecret: clientSecret,
	})
}

// Get GET /payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), paymentID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// List GET /payments
func (h *PaymentHandler) List(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	payments, err := h.payments.ListPayments(c.Request.Context(), userID, limit, offset)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.PaymentListResponse{
		Payments: payments,
		Limit:    limit,
		Offset:   offset,
	})
}

// Confirm POST /payments/:id/confirm
func (h *PaymentHandler) Confirm(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.ConfirmPayment(c.Request.Context(), paymentID, req.IntentID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Release POST /payments/:id/release
func (h *PaymentHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.Release(c.Request.Context(), paymentID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Refund POST /payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.RefundPaymentRequest
	_ = c.ShouldBindJSON(&req)

	payment, err := h.payments.Refund(c.Request.Context(), paymentID, userID, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// Events GET /payments/:id/events
func (h *PaymentHandler) Events(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	events, err := h.payments.ListEvents(c.Request.Context(), paymentID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Stats GET /payments/stats
func (h *PaymentHandler) Stats(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	stats, err := h.payments.GetStats(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
