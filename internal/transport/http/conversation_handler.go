package httptransport

import (
	"github.com/gin-gonic/gin"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/middleware"
)

type sendMessageRequest struct {
	ToAddress      string `json:"toAddress"`
	Subject        string `json:"subject"`
	Text           string `json:"text"`
	HTML           string `json:"html"`
	InReplyTo      string `json:"inReplyTo"`
	ConversationID string `json:"conversationId"`
}

func (h *Handler) listConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": convs, "count": len(convs)})
}

// openConversation 返回会话全部邮件，并把收到的邮件标记为已读
func (h *Handler) openConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	teamID, err := h.conversations.TeamOf(ctx, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	if claims := middleware.ClaimsFrom(c); claims == nil || !claims.CanAccessTeam(teamID) {
		Forbidden(c, MsgPermissionDenied)
		return
	}

	thread, err := h.conversations.Open(ctx, id)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, thread)
}

// sendMessage 以队伍别名外发邮件。给出 inReplyTo 或 conversationId 时按会话回复。
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	res, err := h.dispatch.Send(c.Request.Context(), domain.OutboundEmail{
		TeamID:         c.Param("teamId"),
		ToAddress:      req.ToAddress,
		Subject:        req.Subject,
		Text:           req.Text,
		HTML:           req.HTML,
		InReplyTo:      req.InReplyTo,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	Created(c, res)
}
