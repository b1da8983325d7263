package handler

import (
	"context"

	"sns-system/internal/service"
	"sns-system/pkg/jwt"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
)

// FriendHandler 好友关系处理器
type FriendHandler struct {
	service *service.FriendService
}

// NewFriendHandler 创建FriendHandler实例
func NewFriendHandler(s *service.FriendService) *FriendHandler {
	return &FriendHandler{service: s}
}

// transition 执行一次状态迁移：当前用户与路径中的 user_id
func (h *FriendHandler) transition(c *gin.Context, msg string, op func(ctx context.Context, me, other uint) error) {
	other, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	if err := op(c.Request.Context(), jwt.GetUserID(c), other); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, msg, nil)
}

// SendRequest 发送好友请求
func (h *FriendHandler) SendRequest(c *gin.Context) {
	h.transition(c, "好友请求已发送", h.service.SendRequest)
}

// CancelRequest 撤回好友请求
func (h *FriendHandler) CancelRequest(c *gin.Context) {
	h.transition(c, "好友请求已撤回", h.service.CancelRequest)
}

// AcceptRequest 接受好友请求
func (h *FriendHandler) AcceptRequest(c *gin.Context) {
	h.transition(c, "已添加好友", h.service.AcceptRequest)
}

// RejectRequest 拒绝好友请求
func (h *FriendHandler) RejectRequest(c *gin.Context) {
	h.transition(c, "好友请求已拒绝", h.service.RejectRequest)
}

// Unfriend 删除好友
func (h *FriendHandler) Unfriend(c *gin.Context) {
	h.transition(c, "已删除好友", h.service.Unfriend)
}

// Relationship 查询与指定用户的关系
func (h *FriendHandler) Relationship(c *gin.Context) {
	other, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	state, err := h.service.Relationship(c.Request.Context(), jwt.GetUserID(c), other)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id": other,
		"status":  state,
	})
}

// ListFriends 好友列表
func (h *FriendHandler) ListFriends(c *gin.Context) {
	users, err := h.service.Friends(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, response.FilterUsers(users))
}

// ListSent 已发送的请求
func (h *FriendHandler) ListSent(c *gin.Context) {
	users, err := h.service.SentRequests(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, response.FilterUsers(users))
}

// ListReceived 收到的请求
func (h *FriendHandler) ListReceived(c *gin.Context) {
	users, err := h.service.ReceivedRequests(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, response.FilterUsers(users))
}
