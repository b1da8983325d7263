package handler

import (
	"errors"
	"strconv"

	"sns-system/internal/service"
	"sns-system/pkg/logger"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError 把服务层错误映射为响应码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidOperation):
		response.BadRequest(c, err.Error())
	default:
		_ = c.Error(err)
		logger.Error("请求处理失败",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		response.ErrorWithDetails(c, 500, "服务器内部错误", err)
	}
}

// paramID 解析路径中的ID参数
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// queryInt 解析查询参数，非法时使用默认值
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}
