package service

import "errors"

// 服务层错误分类，调用方使用 errors.Is 判断
var (
	ErrNotFound         = errors.New("not found")         // 用户、请求或好友关系不存在
	ErrConflict         = errors.New("conflict")          // 状态机前置条件不满足
	ErrInvalidOperation = errors.New("invalid operation") // 针对自己的操作或非法参数
	ErrDeliveryFailure  = errors.New("delivery failure")  // 推送失败，只记录日志不向上传播
)
