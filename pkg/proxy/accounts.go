package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
	"github.com/IMBotPlatform/IMBotGuard/pkg/session"
)

// Platform 是审核平台提供的账户能力。
type Platform interface {
	Login(ctx context.Context, username, password string) (string, error)
	ListPolicies(ctx context.Context, token string) ([]string, error)
}

// TokenVerifier 校验访问令牌并返回稳定的用户 ID。
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Login 是一次成功登录的结果。
type Login struct {
	UserID   string
	Token    string
	Policies []string
}

// Accounts 负责登录、令牌认证与策略选择，并维护对应会话字段。
type Accounts struct {
	sessions session.Store
	platform Platform
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAccounts 创建 Accounts。
func NewAccounts(sessions session.Store, platform Platform, verifier TokenVerifier, logger *zap.Logger) *Accounts {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accounts{
		sessions: sessions,
		platform: platform,
		verifier: verifier,
		logger:   logger,
	}
}

// Login 向审核平台换取令牌，并刷新用户会话中的令牌与可用策略列表。
func (a *Accounts) Login(ctx context.Context, username, password string) (Login, error) {
	token, err := a.platform.Login(ctx, username, password)
	if err != nil {
		return Login{}, err
	}
	userID, err := a.verifier.Verify(token)
	if err != nil {
		return Login{}, err
	}

	policies, err := a.platform.ListPolicies(ctx, token)
	if err != nil {
		return Login{}, fmt.Errorf("list policies: %w", err)
	}

	sess := a.sessions.GetOrCreate(userID)
	sess.SetAccessToken(token)
	sess.SetPolicies(policies)

	a.logger.Info("user logged in",
		zap.String("user", userID),
		zap.Int("policies", len(policies)),
	)
	return Login{UserID: userID, Token: token, Policies: policies}, nil
}

// Token 仅换取访问令牌，不修改会话（API 客户端使用）。
func (a *Accounts) Token(ctx context.Context, username, password string) (string, error) {
	return a.platform.Login(ctx, username, password)
}

// Authenticate 校验请求携带的令牌并返回用户 ID。
// 会话中记录最新令牌，进程重启后首个请求即可恢复对审核平台的访问。
func (a *Accounts) Authenticate(token string) (string, error) {
	if token == "" {
		return "", &botcore.AuthError{Reason: "missing token"}
	}
	userID, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	sess := a.sessions.GetOrCreate(userID)
	if sess.AccessToken() != token {
		sess.SetAccessToken(token)
	}
	return userID, nil
}

// SelectPolicy 设置用户当前策略，返回确认文案。
func (a *Accounts) SelectPolicy(userID, policyID string) string {
	sess := a.sessions.GetOrCreate(userID)
	sess.SelectPolicy(policyID)

	known := false
	for _, p := range sess.Policies() {
		if p == policyID {
			known = true
			break
		}
	}
	if !known {
		a.logger.Warn("selected policy not in login snapshot",
			zap.String("user", userID),
			zap.String("policy", policyID),
		)
	}
	return "config to use in proxy: " + policyID
}

// Policies 返回用户的可用策略。会话中尚无快照时（如重启后仅凭令牌访问）
// 向审核平台重新拉取并写回会话。
func (a *Accounts) Policies(ctx context.Context, userID string) ([]string, error) {
	sess := a.sessions.GetOrCreate(userID)
	if policies := sess.Policies(); len(policies) > 0 {
		return policies, nil
	}
	policies, err := a.platform.ListPolicies(ctx, sess.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	sess.SetPolicies(policies)
	return sess.Policies(), nil
}

// Session 返回用户会话。
func (a *Accounts) Session(userID string) *session.Session {
	return a.sessions.GetOrCreate(userID)
}
