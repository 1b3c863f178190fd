package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"shorturl-go/internal/apperrors"
	"shorturl-go/internal/i18n"
	"shorturl-go/response"
)

// GlobalErrorMiddleware 全局错误中间件
// 把 handler 塞进 c.Errors 的 AppError 转为统一响应结构
// 形如 error.xxx 的消息按请求语言做本地化
func GlobalErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			for _, err := range c.Errors {
				var appErr *apperrors.AppError
				if errors.As(err.Err, &appErr) {
					if strings.HasPrefix(appErr.Message, "error.") {
						appErr = apperrors.WithCode(appErr.Code,
							i18n.T(c.Request.Context(), appErr.Message, nil))
					}
					c.AbortWithStatusJSON(appErr.Code, response.ErrorFromAppError(appErr))
					return
				}
			}

			// 未定义错误统一按 500 处理
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error("System error"))
			return
		}
	}
}
