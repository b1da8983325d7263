package jwt

import (
	"crypto/subtle"

	"sns-system/pkg/logger"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ServiceTokenHeader 内部生产方调用时携带的请求头
const ServiceTokenHeader = "X-Service-Token"

// ServiceTokenMiddleware 内部接口认证中间件
// 只接受持有服务令牌的生产方（内容服务等），普通用户token无效；
// token 为空时内部接口整体关闭
func ServiceTokenMiddleware(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			response.Forbidden(c, "内部接口未开启")
			c.Abort()
			return
		}

		got := c.GetHeader(ServiceTokenHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			logger.Warn("服务令牌校验失败",
				zap.String("path", c.Request.URL.Path),
				zap.String("ip", c.ClientIP()),
			)
			response.Forbidden(c, "服务令牌无效")
			c.Abort()
			return
		}
		c.Next()
	}
}
