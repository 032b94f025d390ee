/**
 * internal/utils/response.go
 * 统一 HTTP 响应工具模块
 *
 * 功能：
 * - 统一 {isSuccess, description} 响应格式
 * - 支持附加字段（returnUrl、用户信息等）
 *
 * 依赖：
 * - github.com/gin-gonic/gin: Gin 框架
 */

package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ====================  数据结构 ====================

// ReturnResult 账户接口统一返回体
type ReturnResult struct {
	IsSuccess   bool   `json:"isSuccess"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl,omitempty"`
}

// ====================  响应辅助函数 ====================

// RespondFailure 返回失败响应
//
// 参数：
//   - c: Gin 上下文
//   - status: HTTP 状态码
//   - description: 面向用户的失败描述
func RespondFailure(c *gin.Context, status int, description string) {
	c.JSON(status, ReturnResult{IsSuccess: false, Description: description})
}

// RespondResult 返回成功响应，extra 中的键值对会展开到响应中
//
// 参数：
//   - c: Gin 上下文
//   - description: 成功描述
//   - extra: 附加字段，可为 nil
func RespondResult(c *gin.Context, description string, extra gin.H) {
	response := gin.H{
		"isSuccess":   true,
		"description": description,
	}
	for k, v := range extra {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}
