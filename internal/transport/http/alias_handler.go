package httptransport

import (
	"github.com/gin-gonic/gin"
)

type ensureAliasRequest struct {
	TeamName string `json:"teamName" binding:"required"`
}

type toggleAliasRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// ensureAlias 为队伍创建（或返回已有的）邮箱别名
func (h *Handler) ensureAlias(c *gin.Context) {
	var req ensureAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	alias, err := h.aliases.Ensure(c.Request.Context(), c.Param("teamId"), req.TeamName)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, alias)
}

func (h *Handler) getAlias(c *gin.Context) {
	alias, err := h.aliases.GetByTeam(c.Request.Context(), c.Param("teamId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, alias)
}

func (h *Handler) listAliases(c *gin.Context) {
	aliases, err := h.aliases.List(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{"items": aliases, "count": len(aliases)})
}

// toggleAlias 启用或停用别名，停用后该地址的来信按未知收件人拒收
func (h *Handler) toggleAlias(c *gin.Context) {
	var req toggleAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	alias, err := h.aliases.SetActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, alias)
}
