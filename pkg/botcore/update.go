package botcore

// Role 标识对话消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 描述一条对话消息（角色 + 文本）。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage 构造一条用户消息。
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Credential 是访问 LLM 服务的不透明密钥。
// String 始终返回掩码，避免密钥随日志泄露；需要原值时使用 Secret。
type Credential string

// String 实现 fmt.Stringer。
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "***"
}

// Secret 返回密钥原文。
func (c Credential) Secret() string {
	return string(c)
}

// Binding 描述策略解析后的模型绑定，创建后不可变。
// Provider 在解析阶段按引擎选定，并随绑定一起缓存。
type Binding struct {
	PolicyID string
	Model    string
	Engine   string
	Provider Completer
}

// Completion 是一次补全调用的结果。
type Completion struct {
	Text             string
	CompletionTokens int
}

// Verdict 是审核服务对一段内容的判定结果。
type Verdict struct {
	Text             string
	Violation        bool
	CompletionTokens int
}
