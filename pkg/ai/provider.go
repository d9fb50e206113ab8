package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

// Engine 是受支持的补全引擎集合，解析阶段确定后随绑定缓存。
type Engine string

const (
	EngineOpenAI    Engine = "openai"
	EngineAnthropic Engine = "anthropic"
	EngineGoogle    Engine = "google"
)

const (
	// 模型名包含 instructModel 时请求附带 max_tokens 上限。
	instructModel     = "gpt-3.5-turbo-instruct"
	instructMaxTokens = 3000
)

var errNoChoices = errors.New("provider returned no choices")

// ParseEngine 将配置中的引擎名归一化为 Engine。
func ParseEngine(name string) (Engine, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "azure_openai":
		return EngineOpenAI, true
	case "anthropic", "claude":
		return EngineAnthropic, true
	case "google", "googleai", "gemini":
		return EngineGoogle, true
	default:
		return "", false
	}
}

// ProviderFactory 根据引擎、模型与密钥构造补全能力。
type ProviderFactory interface {
	New(ctx context.Context, engine Engine, model string, cred botcore.Credential) (botcore.Completer, error)
}

// Factory 基于 langchaingo 构造各引擎的 Completer。
type Factory struct {
	baseURLs map[Engine]string
}

// FactoryOption 自定义 Factory 行为。
type FactoryOption func(*Factory)

// WithBaseURL 为指定引擎设置自定义端点（自建网关、测试桩等）。
// 仅 openai 与 anthropic 支持；google 引擎始终使用官方端点，传入的地址被忽略。
func WithBaseURL(engine Engine, url string) FactoryOption {
	return func(f *Factory) {
		if url != "" && engine != EngineGoogle {
			f.baseURLs[engine] = url
		}
	}
}

// NewFactory 创建 Factory。
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{baseURLs: make(map[Engine]string)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New 初始化引擎对应的 llms.Model。
func (f *Factory) New(ctx context.Context, engine Engine, model string, cred botcore.Credential) (botcore.Completer, error) {
	var llm llms.Model
	var err error

	baseURL := f.baseURLs[engine]

	switch engine {
	case EngineOpenAI:
		opts := []openai.Option{
			openai.WithToken(cred.Secret()),
			openai.WithModel(model),
		}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err = openai.New(opts...)
	case EngineGoogle:
		llm, err = googleai.New(ctx,
			googleai.WithAPIKey(cred.Secret()),
			googleai.WithDefaultModel(model),
		)
	case EngineAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(cred.Secret()),
			anthropic.WithModel(model),
		}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		llm, err = anthropic.New(opts...)
	default:
		return nil, &botcore.ConfigurationError{Reason: "unsupported engine " + string(engine)}
	}

	if err != nil {
		return nil, &botcore.ConfigurationError{Reason: "failed to create model provider", Err: err}
	}

	return &llmProvider{llm: llm, engine: engine, model: model}, nil
}

// llmProvider 把 llms.Model 适配为 botcore.Completer。
type llmProvider struct {
	llm    llms.Model
	engine Engine
	model  string
}

// Complete 发起一次非流式补全，不做重试。
func (p *llmProvider) Complete(ctx context.Context, messages []botcore.Message) (botcore.Completion, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	var opts []llms.CallOption
	if strings.Contains(p.model, instructModel) {
		opts = append(opts, llms.WithMaxTokens(instructMaxTokens))
	}

	resp, err := p.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return botcore.Completion{}, &botcore.CompletionError{Engine: string(p.engine), Model: p.model, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return botcore.Completion{}, &botcore.CompletionError{Engine: string(p.engine), Model: p.model, Err: errNoChoices}
	}

	choice := resp.Choices[0]
	return botcore.Completion{
		Text:             choice.Content,
		CompletionTokens: completionTokens(choice.GenerationInfo),
	}, nil
}

func messageType(role botcore.Role) llms.ChatMessageType {
	switch role {
	case botcore.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// 各引擎在 GenerationInfo 中报告输出 token 的键名不同。
var completionTokenKeys = []string{"CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens"}

func completionTokens(info map[string]any) int {
	for _, key := range completionTokenKeys {
		if n, ok := asInt(info[key]); ok {
			return n
		}
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}
