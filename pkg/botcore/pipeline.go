package botcore

import "context"

// Completer 抽象 LLM 补全能力，每个引擎一种实现。
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

// CompleterFunc 便于直接以函数充当 Completer。
type CompleterFunc func(ctx context.Context, messages []Message) (Completion, error)

// Complete 实现 Completer 接口。
func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (Completion, error) {
	if f == nil {
		return Completion{}, &CompletionError{Err: errNilCompleter}
	}
	return f(ctx, messages)
}

// Moderator 抽象内容审核能力。
// token 为用户在审核平台上的访问令牌，policyID 指定审核策略。
type Moderator interface {
	Moderate(ctx context.Context, token, policyID, content string) (Verdict, error)
}

// ModeratorFunc 便于直接以函数充当 Moderator。
type ModeratorFunc func(ctx context.Context, token, policyID, content string) (Verdict, error)

// Moderate 实现 Moderator 接口。
func (f ModeratorFunc) Moderate(ctx context.Context, token, policyID, content string) (Verdict, error) {
	if f == nil {
		return Verdict{}, &ModerationTransportError{PolicyID: policyID, Err: errNilModerator}
	}
	return f(ctx, token, policyID, content)
}
