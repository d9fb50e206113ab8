package guard

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

type moderationResponse struct {
	Messages []moderationMessage `json:"messages"`
}

type moderationMessage struct {
	Content   string          `json:"content"`
	Violation json.RawMessage `json:"violation"`
	Stats     json.RawMessage `json:"stats"`
}

// tokenPattern 匹配自由文本中的 "total_completion_tokens: 12" 一类片段。
var tokenPattern = regexp.MustCompile(`(?i)(?:total[_ ])?completion[_ ]tokens["'\s]*[:=]?\s*(\d+)`)

// ParseVerdict 解析审核服务响应，取 messages[0]。
// token 数依次尝试 stats.total_completion_tokens（数值或数字串）、stats 文本、content 文本；
// 均无法得到时返回 ModerationParseError。
func ParseVerdict(body []byte) (botcore.Verdict, error) {
	var resp moderationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return botcore.Verdict{}, &botcore.ModerationParseError{Reason: "invalid json", Body: truncate(string(body), maxErrorBody), Err: err}
	}
	if len(resp.Messages) == 0 {
		return botcore.Verdict{}, &botcore.ModerationParseError{Reason: "no messages", Body: truncate(string(body), maxErrorBody)}
	}

	msg := resp.Messages[0]
	tokens, ok := statsTokens(msg.Stats)
	if !ok {
		tokens, ok = extractTokens(msg.Content)
	}
	if !ok {
		return botcore.Verdict{}, &botcore.ModerationParseError{Reason: "token count missing", Body: truncate(string(body), maxErrorBody)}
	}

	return botcore.Verdict{
		Text:             msg.Content,
		Violation:        parseViolation(msg.Violation),
		CompletionTokens: tokens,
	}, nil
}

func statsTokens(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		v, ok := obj["total_completion_tokens"]
		if !ok {
			return 0, false
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return numberToInt(string(n))
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if n, ok := numberToInt(s); ok {
				return n, true
			}
			return extractTokens(s)
		}
		return 0, false
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return extractTokens(text)
	}
	return 0, false
}

func extractTokens(text string) (int, bool) {
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return numberToInt(m[1])
}

func numberToInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// parseViolation 接受布尔值或 "true"/"false" 字符串；缺失视为未违规。
func parseViolation(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		return v
	}
	return false
}
