package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

type policyEntry struct {
	ID string `json:"id"`
}

// Login 以 password 授权方式换取访问令牌。
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/token", nil, "", form)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusBadRequest || se.Status == http.StatusForbidden) {
			return "", &botcore.AuthError{Reason: "invalid username or password", Err: err}
		}
		return "", &botcore.AuthError{Reason: "token endpoint unavailable", Err: err}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", &botcore.AuthError{Reason: "malformed token response", Err: err}
	}
	if tr.AccessToken == "" {
		return "", &botcore.AuthError{Reason: "user does not exist"}
	}
	return tr.AccessToken, nil
}

// ListPolicies 返回用户可用的策略 ID 列表，保持服务端顺序。
func (c *Client) ListPolicies(ctx context.Context, token string) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/rails/configs", nil, token, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var entries []policyEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}
