package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-creator/internal/common"
)

func (h *Handler) Me(c *gin.Context) {
	uid := strings.TrimSpace(c.Query("user_id"))
	if uid == "" {
		uid = strings.TrimSpace(c.Query("tg_id"))
	}
	if uid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id required")
		return
	}

	u, err := h.Ledger.Get(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to load balance")
		return
	}
	common.OK(c, gin.H{
		"user_id":      u.ID,
		"free_credits": u.FreeCredits,
		"paid_credits": u.PaidCredits,
		"privileged":   h.Ledger.IsPrivileged(u.ID),
	})
}
