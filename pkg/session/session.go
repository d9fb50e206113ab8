package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

// ModerationEntry 记录一次审核调用的结果；调用失败时 Err 非空。
type ModerationEntry struct {
	Verdict botcore.Verdict
	Err     string
}

// Session 保存单个用户在进程生命周期内的临时状态。
// 所有字段仅通过方法访问，内部由 mu 保护。
type Session struct {
	UserID string

	mu           sync.RWMutex
	accessToken  string
	activePolicy string
	hasPolicy    bool
	policies     []string

	bindings    map[string]botcore.Binding    // policyID -> 模型绑定
	credentials map[string]botcore.Credential // policyID -> 密钥

	chatHistory       []botcore.Message
	completionHistory []string
	moderationInputs  []string
	moderationResults []ModerationEntry

	flight singleflight.Group // 按 policyID 合并并发解析
}

func newSession(userID string) *Session {
	return &Session{
		UserID:      userID,
		bindings:    make(map[string]botcore.Binding),
		credentials: make(map[string]botcore.Credential),
	}
}

// SetAccessToken 保存用户在审核平台上的访问令牌。
func (s *Session) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// AccessToken 返回当前访问令牌。
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SelectPolicy 设置当前生效的策略。空字符串视为清除。
func (s *Session) SelectPolicy(policyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePolicy = policyID
	s.hasPolicy = policyID != ""
}

// ActivePolicy 返回当前策略；未设置时第二个返回值为 false。
func (s *Session) ActivePolicy() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePolicy, s.hasPolicy
}

// SetPolicies 覆盖登录时获取的可用策略快照。
func (s *Session) SetPolicies(policies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append([]string(nil), policies...)
}

// Policies 返回可用策略列表的副本。
func (s *Session) Policies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.policies...)
}

// Binding 返回已缓存的模型绑定。
func (s *Session) Binding(policyID string) (botcore.Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[policyID]
	return b, ok
}

// Credential 返回已缓存的密钥。
func (s *Session) Credential(policyID string) (botcore.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[policyID]
	return c, ok
}

// ResolveFunc 执行一次远程解析，返回绑定与密钥。
// ctx 不随任何单个调用方取消，由实现自行限定超时。
type ResolveFunc func(ctx context.Context) (botcore.Binding, botcore.Credential, error)

// LoadOrResolve 返回 policyID 对应的绑定与密钥，未命中时调用 resolve 填充。
//
// 同一 policyID 的并发调用共享同一次 resolve；绑定与密钥在同一临界区写入，
// 失败时二者均不写入。已写入的值不会被覆盖。某个调用方的 ctx 取消只让它自己返回，
// 共享的 resolve 继续执行并惠及其余调用方。
//
//	Check Cache -> (Hit) -> Return
//	     |
//	  (Miss)
//	     v
//	singleflight(policyID) -> Re-check -> resolve() -> Commit both -> Return
func (s *Session) LoadOrResolve(ctx context.Context, policyID string, resolve ResolveFunc) (botcore.Binding, botcore.Credential, error) {
	if b, c, ok := s.cached(policyID); ok {
		return b, c, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(policyID, func() (interface{}, error) {
		// 上一轮 flight 可能已在本次检查之后完成写入
		if b, c, ok := s.cached(policyID); ok {
			return resolved{b, c}, nil
		}
		b, c, err := resolve(shared)
		if err != nil {
			return nil, err
		}
		return s.commit(policyID, b, c), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return botcore.Binding{}, "", res.Err
		}
		r := res.Val.(resolved)
		return r.binding, r.credential, nil
	case <-ctx.Done():
		return botcore.Binding{}, "", ctx.Err()
	}
}

type resolved struct {
	binding    botcore.Binding
	credential botcore.Credential
}

func (s *Session) cached(policyID string) (botcore.Binding, botcore.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[policyID]
	if !ok {
		return botcore.Binding{}, "", false
	}
	return b, s.credentials[policyID], true
}

func (s *Session) commit(policyID string, b botcore.Binding, c botcore.Credential) resolved {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[policyID]; ok {
		return resolved{existing, s.credentials[policyID]}
	}
	s.bindings[policyID] = b
	s.credentials[policyID] = c
	return resolved{b, c}
}

// RecordCompletion 在补全成功后同时追加用户消息与机器人回复。
func (s *Session) RecordCompletion(userMessage, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatHistory = append(s.chatHistory, botcore.UserMessage(userMessage))
	s.completionHistory = append(s.completionHistory, reply)
}

// RecordModeration 追加一次审核的输入与结果。
func (s *Session) RecordModeration(input string, entry ModerationEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderationInputs = append(s.moderationInputs, input)
	s.moderationResults = append(s.moderationResults, entry)
}

// ChatHistory 返回对话历史的副本。
func (s *Session) ChatHistory() []botcore.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]botcore.Message(nil), s.chatHistory...)
}

// Completions 返回机器人回复历史的副本。
func (s *Session) Completions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.completionHistory...)
}

// ModerationInputs 返回送审内容历史的副本。
func (s *Session) ModerationInputs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.moderationInputs...)
}

// ModerationResults 返回审核结果历史的副本。
func (s *Session) ModerationResults() []ModerationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ModerationEntry(nil), s.moderationResults...)
}
