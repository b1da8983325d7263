package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers 路由使用的全部处理器
type Handlers struct {
	Users         *UserHandler
	Friends       *FriendHandler
	Notifications *NotificationHandler
}

// RegisterRoutes 在 /api/v1 下绑定业务路由
// auth 为用户认证中间件，service 为内部生产方（内容服务）认证中间件
func RegisterRoutes(v1 *gin.RouterGroup, auth, service gin.HandlerFunc, h Handlers) {
	users := v1.Group("/users")
	{
		// 公开接口（无需认证）
		users.POST("/register", h.Users.Register)

		authUsers := users.Group("")
		authUsers.Use(auth)
		{
			authUsers.GET("/:user_id", h.Users.GetUser)
			authUsers.DELETE("/me", h.Users.Deactivate)
		}
	}

	// 好友路由（需要认证）
	friends := v1.Group("/friends")
	friends.Use(auth)
	{
		friends.GET("", h.Friends.ListFriends)                       // 好友列表
		friends.GET("/requests/sent", h.Friends.ListSent)            // 已发送请求
		friends.GET("/requests/received", h.Friends.ListReceived)    // 收到的请求
		friends.GET("/:user_id/status", h.Friends.Relationship)      // 关系状态
		friends.POST("/:user_id/request", h.Friends.SendRequest)     // 发送请求
		friends.DELETE("/:user_id/request", h.Friends.CancelRequest) // 撤回请求
		friends.POST("/:user_id/accept", h.Friends.AcceptRequest)    // 接受请求
		friends.POST("/:user_id/reject", h.Friends.RejectRequest)    // 拒绝请求
		friends.DELETE("/:user_id", h.Friends.Unfriend)              // 删除好友
	}

	// 通知路由（需要认证）
	notifications := v1.Group("/notifications")
	notifications.Use(auth)
	{
		notifications.GET("", h.Notifications.List)                                                // 分页列表
		notifications.GET("/unread/count", h.Notifications.UnreadCount)                            // 未读数量
		notifications.PUT("/read-all", h.Notifications.MarkAllRead)                                // 全部已读
		notifications.PUT("/:notification_id/read", h.Notifications.MarkRead)                      // 单条已读
		notifications.POST("/events", h.Notifications.RecordEvent)                                 // 上报事件
		notifications.DELETE("/events", h.Notifications.RetractEvent)                              // 撤回事件
	}

	// 内部路由：主体删除会清除所有用户的相关通知，只对生产方开放
	internal := v1.Group("/internal")
	internal.Use(service)
	{
		internal.DELETE("/subjects/:content_type/:content_id", h.Notifications.DeleteSubject)
	}
}
