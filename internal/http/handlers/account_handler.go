package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-payments/internal/dto"
	"github.com/ignatzorin/freelance-payments/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-payments/internal/service"
)

// AccountHandler — онбординг исполнителей в платёжный шлюз.
type AccountHandler struct {
	accounts *service.AccountService
}

func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Onboard POST /accounts/onboard
func (h *AccountHandler) Onboard(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.OnboardAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	account, link, err := h.accounts.Onboard(c.Request.Context(), userID, req.Email)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.OnboardAccountResponse{
		PayeeAccount:  account,
		OnboardingURL: link.URL,
	})
}

// Get GET /accounts/me
func (h *AccountHandler) Get(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	account, err := h.accounts.GetAccount(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// Refresh POST /accounts/me/refresh
//
// Принудительная синхронизация флагов готовности со шлюзом — на случай
// потерянного account.updated или возврата со страницы онбординга.
func (h *AccountHandler) Refresh(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	account, err := h.accounts.RefreshStatus(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, account)
}
