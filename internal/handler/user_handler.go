package handler

import (
	"sns-system/internal/service"
	"sns-system/pkg/jwt"
	"sns-system/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	service *service.UserService
}

func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Register 创建社交资料并返回 token
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Nickname string `json:"nickname"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, token, err := h.service.Create(c.Request.Context(), r.Username, r.Nickname)
	if err != nil {
		writeError(c, err)
		return
	}

	response.SuccessWithMessage(c, "注册成功", &response.RegisterResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// GetUser 获取用户资料
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, response.FilterUserInfo(user))
}

// Deactivate 注销当前账号
func (h *UserHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), jwt.GetUserID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.SuccessWithMessage(c, "账号已注销", nil)
}
