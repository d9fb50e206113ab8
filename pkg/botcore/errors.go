package botcore

import (
	"errors"
	"fmt"
)

var (
	errNilCompleter = errors.New("completer not configured")
	errNilModerator = errors.New("moderator not configured")
)

// AuthError 表示凭据无效或令牌校验失败。
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// PolicyNotSetError 表示用户在未选择策略的情况下发起对话。
type PolicyNotSetError struct {
	UserID string
}

func (e *PolicyNotSetError) Error() string {
	return fmt.Sprintf("no active policy for user %q", e.UserID)
}

// ConfigurationError 表示策略配置缺失、格式错误或引擎不受支持。
type ConfigurationError struct {
	PolicyID string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid configuration for policy %q: %s", e.PolicyID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CredentialError 表示无法取得策略对应的 LLM 密钥。
type CredentialError struct {
	PolicyID string
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential unavailable for policy %q: %v", e.PolicyID, e.Err)
	}
	return fmt.Sprintf("credential unavailable for policy %q", e.PolicyID)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// CompletionError 表示补全调用失败（传输错误或上游非 2xx）。
type CompletionError struct {
	Engine string
	Model  string
	Err    error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed (engine=%s model=%s): %v", e.Engine, e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// ModerationTransportError 表示审核服务不可达或返回非 2xx。
type ModerationTransportError struct {
	PolicyID string
	Status   int
	Body     string
	Err      error
}

func (e *ModerationTransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("moderation request failed: status=%d body=%s", e.Status, e.Body)
	}
	return fmt.Sprintf("moderation request failed: %v", e.Err)
}

func (e *ModerationTransportError) Unwrap() error { return e.Err }

// ModerationParseError 表示审核响应无法解析出判定结果或 token 数。
type ModerationParseError struct {
	Reason string
	Body   string
	Err    error
}

func (e *ModerationParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unparseable moderation response: %s: %v", e.Reason, e.Err)
	}
	return "unparseable moderation response: " + e.Reason
}

func (e *ModerationParseError) Unwrap() error { return e.Err }
