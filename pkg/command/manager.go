package command

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const commandLogSnippet = 256

// Result 是一次命令执行的输出。
type Result struct {
	Handled bool   // 输入是否为命令
	Output  string // 命令写入 stdout/stderr 的全部内容
}

// Manager 负责串联解析、构建 Cobra 命令树并执行。
type Manager struct {
	factory CommandFactory
	parser  Parser
	logger  *zap.Logger
}

// ManagerOption 自定义 Manager 行为。
type ManagerOption func(*Manager)

// WithLogger 注入自定义日志记录器。
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPrefix 修改命令前缀。
func WithPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.parser.Prefix = prefix
	}
}

// NewManager 绑定命令工厂。
func NewManager(factory CommandFactory, opts ...ManagerOption) *Manager {
	mgr := &Manager{
		factory: factory,
		parser:  NewParser(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// IsCommand 判断文本是否为命令。
func (m *Manager) IsCommand(text string) bool {
	return m.parser.Parse(text).IsCommand
}

// Execute 为每个请求构建独立的命令树并执行；非命令文本返回 Handled=false。
func (m *Manager) Execute(ctx context.Context, userID, text string) (Result, error) {
	if m == nil || m.factory == nil {
		return Result{}, ErrNotInitialized
	}

	// 1. 初步解析
	parsed := m.parser.Parse(text)
	if !parsed.IsCommand {
		return Result{}, nil
	}
	if userID == "" {
		return Result{Handled: true}, ErrUserRequired
	}

	// 2. 创建 Cobra 命令树
	rootCmd := m.factory()

	// 3. 配置 IO 重定向
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	// 4. 准备上下文
	ctx = WithExecutionContext(ctx, &ExecutionContext{UserID: userID, Parsed: parsed})

	// 5. 设置参数并执行
	args := parsed.Tokens
	// 如果第一个 token 匹配 root command 的 name，移除它以避免 "unknown command X for X" 错误
	if len(args) > 0 && strings.EqualFold(args[0], rootCmd.Name()) {
		args = args[1:]
	}
	rootCmd.SetArgs(args)
	m.logger.Debug("executing command",
		zap.Strings("args", args),
		zap.String("user", userID),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		m.logger.Info("command execution error",
			zap.String("user", userID),
			zap.String("input", truncateForLog(parsed.Raw, commandLogSnippet)),
			zap.Error(err),
		)
		return Result{Handled: true, Output: out.String()}, err
	}
	return Result{Handled: true, Output: out.String()}, nil
}

// truncateForLog 限制日志中输出的文本长度。
func truncateForLog(src string, limit int) string {
	if limit <= 0 || len(src) <= limit {
		return src
	}
	return fmt.Sprintf("%s...(truncated)", src[:limit])
}
