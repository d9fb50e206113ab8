package command

import "context"

// keyExecutionContext 是 context.Context 中存储 ExecutionContext 的键。
type keyExecutionContext struct{}

// ExecutionContext 为命令 handler 提供必要的环境信息。
type ExecutionContext struct {
	UserID string
	Parsed ParseResult
}

// WithExecutionContext 将 ExecutionContext 注入到标准 context.Context 中。
func WithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, keyExecutionContext{}, execCtx)
}

// FromContext 从标准 context.Context 中提取 ExecutionContext。
func FromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	val, _ := ctx.Value(keyExecutionContext{}).(*ExecutionContext)
	return val
}
