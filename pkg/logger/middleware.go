package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorLoggerMiddleware 错误日志中间件（panic恢复）
func ErrorLoggerMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		Error("HTTP请求发生panic",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Any("error", recovered),
		)
		c.AbortWithStatus(500)
	})
}

// RequestLogger 请求日志记录器
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 开始时间
		start := time.Now()

		// 处理请求
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// 记录请求日志
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"status":     status,
			"latency":    latency.String(),
			"user_agent": c.Request.UserAgent(),
		}
		if uid, ok := c.Get("user_id"); ok {
			fields["user_id"] = uid
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}
		logger := WithFields(fields)

		// 根据状态码选择日志级别
		switch {
		case status >= 500:
			logger.Error("HTTP请求错误")
		case status >= 400:
			logger.Warn("HTTP请求警告")
		default:
			logger.Info("HTTP请求成功")
		}
	}
}
