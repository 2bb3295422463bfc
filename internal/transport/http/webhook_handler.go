package httptransport

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type webhookResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Error          string `json:"error,omitempty"`
}

// inboundWebhook 接收邮件服务商推送。令牌放在 token 查询参数或 X-Webhook-Token 头。
func (h *Handler) inboundWebhook(c *gin.Context) {
	token := c.GetHeader("X-Webhook-Token")
	if token == "" {
		token = c.Query("token")
	}
	if !h.webhook.VerifyToken(token) {
		h.log.Warn("webhook token rejected", zap.String("provider", c.Param("provider")), zap.String("ip", c.ClientIP()))
		Unauthorized(c, MsgWebhookToken)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	res, err := h.webhook.HandleInbound(c.Request.Context(), c.Param("provider"), body)
	if err != nil {
		status, msg := statusOf(err)
		ErrorWithData(c, status, msg, webhookResult{Success: false, Error: err.Error()})
		return
	}
	Success(c, webhookResult{
		Success:        true,
		ConversationID: res.ConversationID,
		Duplicate:      res.Duplicate,
	})
}

func (h *Handler) listWebhookLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.webhook.ListLogs(c.Request.Context(), limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": logs, "count": len(logs)})
}
