package httptransport

import (
	"github.com/gin-gonic/gin"

	"tourney/backend/internal/bridge"
)

// smtpTest 通过测试桥向本地监听器投递一封邮件，返回完整的应答记录。
// 投递失败时同样返回已收集的记录。
func (h *Handler) smtpTest(c *gin.Context) {
	var req bridge.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	res, err := h.bridge.Send(c.Request.Context(), req)
	if err != nil {
		status, msg := statusOf(err)
		ErrorWithData(c, status, msg, res)
		return
	}
	Success(c, res)
}
