package guard

import (
	"context"
	"errors"
	"net/http"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

type moderationRequest struct {
	ConfigID string            `json:"config_id"`
	Messages []botcore.Message `json:"messages"`
	Stream   bool              `json:"stream"`
}

// Moderate 将 content 以用户消息的形式提交给审核服务，单次请求、不重试。
func (c *Client) Moderate(ctx context.Context, token, policyID, content string) (botcore.Verdict, error) {
	payload := moderationRequest{
		ConfigID: policyID,
		Messages: []botcore.Message{botcore.UserMessage(content)},
		Stream:   false,
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", nil, token, payload)
	if err != nil {
		return botcore.Verdict{}, &botcore.ModerationTransportError{PolicyID: policyID, Err: err}
	}
	body, err := c.do(req)
	if err != nil {
		transportErr := &botcore.ModerationTransportError{PolicyID: policyID, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			transportErr.Status = se.Status
			transportErr.Body = se.Body
		}
		return botcore.Verdict{}, transportErr
	}
	return ParseVerdict(body)
}
