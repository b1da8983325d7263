package handler

import (
	"sns-system/internal/model"
	"sns-system/internal/service"
	"sns-system/pkg/jwt"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 通知处理器
type NotificationHandler struct {
	service *service.NotificationService
}

// NewNotificationHandler 创建NotificationHandler实例
func NewNotificationHandler(s *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: s}
}

// eventRequest 评论/点赞等生产方上报的事件，贡献者为当前用户
type eventRequest struct {
	To          uint   `json:"to" binding:"required"`
	Type        string `json:"type" binding:"required"`
	ContentID   string `json:"content_id"`
	ContentType string `json:"content_type"`
}

func (r eventRequest) key() model.NotificationKey {
	return model.NotificationKey{
		To:          r.To,
		Type:        model.NotificationType(r.Type),
		ContentID:   r.ContentID,
		ContentType: model.ContentType(r.ContentType),
	}
}

// List 分页获取通知
func (h *NotificationHandler) List(c *gin.Context) {
	page, err := h.service.List(c.Request.Context(), jwt.GetUserID(c),
		queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]*response.NotificationInfo, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, response.FilterNotificationInfo(&page.Items[i]))
	}
	response.Success(c, response.NewPaginated(items, page.Page, page.PageSize, page.Total))
}

// UnreadCount 未读通知数量
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"count": count})
}

// MarkRead 标记单条通知为已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "notification_id")
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), jwt.GetUserID(c), id); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已标记为已读", nil)
}

// MarkAllRead 全部标记为已读
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.service.MarkAllRead(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// RecordEvent 上报事件
func (h *NotificationHandler) RecordEvent(c *gin.Context) {
	var r eventRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.service.RecordEvent(c.Request.Context(), r.key(), jwt.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "事件已记录", nil)
}

// RetractEvent 撤回事件（取消点赞、删除评论）
func (h *NotificationHandler) RetractEvent(c *gin.Context) {
	var r eventRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.service.RetractEvent(c.Request.Context(), r.key(), jwt.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "事件已撤回", nil)
}

// DeleteSubject 主体被删除时清除相关通知（内部接口，由内容服务调用）
func (h *NotificationHandler) DeleteSubject(c *gin.Context) {
	n, err := h.service.DeleteBySubject(c.Request.Context(),
		c.Param("content_id"), model.ContentType(c.Param("content_type")))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": n})
}
