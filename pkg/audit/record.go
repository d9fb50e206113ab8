package audit

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Record 是一轮已完成对话的审计记录，写入后不可修改。
// 前 13 个字段的顺序与报表列顺序一致。
type Record struct {
	Timestamp         time.Time `json:"timestamp"`
	User              string    `json:"user"`
	Message           string    `json:"message"`
	BotResponseTime   float64   `json:"bot_response_time"`   // 秒
	GuardResponseTime float64   `json:"guard_response_time"` // 秒
	Engine            string    `json:"engine"`
	Model             string    `json:"model"`
	PolicyID          string    `json:"config_id"`
	BotResponse       string    `json:"bot_response"`
	GuardResponse     string    `json:"guard_response"`
	Violation         bool      `json:"violation"`
	BotTokens         int       `json:"bot_tokens"`
	GuardTokens       int       `json:"guard_tokens"`

	// 对机器人回复的审核结果
	ResponseGuardResponse string  `json:"response_guard_response,omitempty"`
	ResponseGuardTime     float64 `json:"response_guard_time,omitempty"`
	ResponseViolation     bool    `json:"response_violation,omitempty"`
	ResponseGuardTokens   int     `json:"response_guard_tokens,omitempty"`

	GuardError         string `json:"guard_error,omitempty"`
	ResponseGuardError string `json:"response_guard_error,omitempty"`

	ID string `json:"id"`
}

// NewID 生成按时间有序的记录 ID。
func NewID() string {
	return ulid.Make().String()
}
