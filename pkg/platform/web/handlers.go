package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
	"github.com/IMBotPlatform/IMBotGuard/pkg/command"
	"github.com/IMBotPlatform/IMBotGuard/pkg/proxy"
)

// TurnHandler 处理一轮对话。
type TurnHandler interface {
	Handle(ctx context.Context, userID, message string) (*proxy.Turn, error)
}

// Handlers 聚合 HTTP 处理函数所需的依赖。
type Handlers struct {
	accounts   *proxy.Accounts
	turns      TurnHandler
	commands   *command.Manager
	audit      audit.Log
	cookieName string
	logger     *zap.Logger
}

// NewHandlers 创建 Handlers。commands 可为 nil，此时不识别斜杠命令。
func NewHandlers(accounts *proxy.Accounts, turns TurnHandler, commands *command.Manager, log audit.Log, cookieName string, logger *zap.Logger) *Handlers {
	if cookieName == "" {
		cookieName = "proxy"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		accounts:   accounts,
		turns:      turns,
		commands:   commands,
		audit:      log,
		cookieName: cookieName,
		logger:     logger,
	}
}

type credentialsForm struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

type chatForm struct {
	UserInput  string `form:"user_input" json:"user_input" binding:"required"`
	ConfigName string `form:"config_name" json:"config_name"`
}

// Login 换取令牌、写入 cookie 并跳转到门户。
func (h *Handlers) Login(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	login, err := h.accounts.Login(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		h.writeLoginError(c, err)
		return
	}
	c.SetCookie(h.cookieName, login.Token, 0, "/", "", false, true)
	c.Redirect(http.StatusFound, "/portal")
}

// Creds 仅返回访问令牌，供 API 客户端使用。
func (h *Handlers) Creds(c *gin.Context) {
	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := h.accounts.Token(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		h.writeLoginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// Portal 返回门户视图数据：策略列表、当前策略与历史回复。
func (h *Handlers) Portal(c *gin.Context) {
	userID := currentUser(c)
	sess := h.accounts.Session(userID)
	policies, err := h.accounts.Policies(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("refresh policy list", zap.String("user", userID), zap.Error(err))
		policies = sess.Policies()
	}
	active, _ := sess.ActivePolicy()
	c.JSON(http.StatusOK, gin.H{
		"user":           userID,
		"configs_list":   policies,
		"active_policy":  active,
		"chat_responses": sess.Completions(),
	})
}

// Chat 处理门户输入：斜杠命令交给命令管理器，其余作为一轮对话。
func (h *Handlers) Chat(c *gin.Context) {
	userID := currentUser(c)

	var form chatForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_input is required"})
		return
	}
	if form.ConfigName != "" {
		h.accounts.SelectPolicy(userID, form.ConfigName)
	}

	if h.commands != nil && h.commands.IsCommand(form.UserInput) {
		res, err := h.commands.Execute(c.Request.Context(), userID, form.UserInput)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "response": res.Output})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response": res.Output})
		return
	}

	turn, err := h.turns.Handle(c.Request.Context(), userID, form.UserInput)
	if err != nil {
		h.writeError(c, err)
		return
	}

	sess := h.accounts.Session(userID)
	c.JSON(http.StatusOK, gin.H{
		"response":       turn.Reply,
		"turn_id":        turn.ID,
		"config_id":      turn.PolicyID,
		"model":          turn.Binding.Model,
		"bot_tokens":     turn.BotTokens,
		"chat_responses": sess.Completions(),
		"configs_list":   sess.Policies(),
	})
}

// SelectPolicy 设置当前策略。
func (h *Handlers) SelectPolicy(c *gin.Context) {
	policyID := strings.TrimSpace(c.Query("config_id"))
	if policyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "config_id is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": h.accounts.SelectPolicy(currentUser(c), policyID)})
}

// Reports 返回当前用户的全部审计记录。
func (h *Handlers) Reports(c *gin.Context) {
	records, err := h.audit.Fetch(c.Request.Context(), currentUser(c))
	if err != nil {
		h.logger.Error("fetch audit records", zap.String("user", currentUser(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read interaction log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": records})
}

// Health 返回存活状态。
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError 将错误分类映射为 HTTP 状态码。
func (h *Handlers) writeError(c *gin.Context, err error) {
	var (
		authErr *botcore.AuthError
		notSet  *botcore.PolicyNotSetError
		cfgErr  *botcore.ConfigurationError
		credErr *botcore.CredentialError
		compErr *botcore.CompletionError
		status  int
		message string
	)
	switch {
	case errors.As(err, &authErr):
		status, message = http.StatusForbidden, authErr.Reason
	case errors.As(err, &notSet):
		status, message = http.StatusBadRequest, "Config ID is required. Please pick a policy."
	case errors.As(err, &cfgErr), errors.As(err, &credErr):
		status, message = http.StatusBadGateway, err.Error()
	case errors.As(err, &compErr):
		status, message = http.StatusBadGateway, err.Error()
	default:
		status, message = http.StatusInternalServerError, "internal error"
		h.logger.Error("unhandled request error", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": message})
}

func (h *Handlers) writeLoginError(c *gin.Context, err error) {
	var authErr *botcore.AuthError
	if errors.As(err, &authErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": authErr.Reason})
		return
	}
	h.logger.Error("login failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "authentication service unavailable"})
}
