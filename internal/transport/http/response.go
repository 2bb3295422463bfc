package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构，code 与 HTTP 状态码一致
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

const (
	CodeSuccess = http.StatusOK
	CodeCreated = http.StatusCreated
)

func reply(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, Response{Code: status, Msg: msg, Data: data})
}

// Success 200
func Success(c *gin.Context, data any) {
	reply(c, http.StatusOK, "成功", data)
}

// Created 201，用于别名创建与外发邮件
func Created(c *gin.Context, data any) {
	reply(c, http.StatusCreated, "创建成功", data)
}

// BadRequest 请求体或参数不合法
func BadRequest(c *gin.Context, msg string) {
	reply(c, http.StatusBadRequest, msg, nil)
}

// Unauthorized webhook 令牌无效
func Unauthorized(c *gin.Context, msg string) {
	reply(c, http.StatusUnauthorized, msg, nil)
}

// Forbidden 令牌无权访问该队伍
func Forbidden(c *gin.Context, msg string) {
	reply(c, http.StatusForbidden, msg, nil)
}

// Error 按状态码返回错误，状态码通常来自 statusOf
func Error(c *gin.Context, status int, msg string) {
	reply(c, status, msg, nil)
}

// ErrorWithData 错误响应，附带处理结果
func ErrorWithData(c *gin.Context, status int, msg string, data any) {
	reply(c, status, msg, data)
}
