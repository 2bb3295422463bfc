package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tourney/backend/internal/bridge"
	"tourney/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgAuthRequired     = "需要登录认证"
	MsgPermissionDenied = "权限不足"
	MsgInternalError    = "服务器内部错误，请稍后重试"

	MsgAliasNotFound        = "队伍邮箱不存在"
	MsgConversationNotFound = "会话不存在"
	MsgUnknownRecipient     = "收件地址不属于任何队伍"
	MsgTransportFailed      = "外发投递失败"
	MsgStoreUnavailable     = "存储暂不可用，请稍后重试"
	MsgBridgeTimeout        = "等待 SMTP 监听器应答超时"
	MsgBridgeRejected       = "SMTP 监听器拒绝了测试投递"
	MsgWebhookToken         = "webhook 令牌无效"
)

// statusOf 把分类错误映射为 HTTP 状态码与提示
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnknownRecipient):
		return http.StatusNotFound, MsgUnknownRecipient
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "记录不存在"
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway, MsgTransportFailed
	case errors.Is(err, bridge.ErrTimeout):
		return http.StatusGatewayTimeout, MsgBridgeTimeout
	case errors.Is(err, bridge.ErrUnexpectedReply):
		return http.StatusBadGateway, MsgBridgeRejected
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, MsgStoreUnavailable
	default:
		return http.StatusInternalServerError, MsgInternalError
	}
}

// RespondError 按错误分类写出统一错误响应
func RespondError(c *gin.Context, err error) {
	status, msg := statusOf(err)
	_ = c.Error(err)
	Error(c, status, msg)
}
