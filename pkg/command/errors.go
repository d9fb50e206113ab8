package command

import "errors"

var (
	// ErrNotInitialized 表示 Manager 未配置命令工厂。
	ErrNotInitialized = errors.New("command manager not initialized")
	// ErrUserRequired 表示命令执行缺少已认证用户。
	ErrUserRequired = errors.New("command requires an authenticated user")
)
