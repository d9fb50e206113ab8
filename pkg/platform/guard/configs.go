package guard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

const configDocumentKey = "config.yml"

// ReadConfig 读取策略的 config.yml 原文。
func (c *Client) ReadConfig(ctx context.Context, token, policyID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/read_config", url.Values{"config_name": {policyID}}, token, nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", &botcore.ConfigurationError{PolicyID: policyID, Reason: "read_config failed", Err: err}
	}

	var files map[string]json.RawMessage
	if err := json.Unmarshal(body, &files); err != nil {
		return "", &botcore.ConfigurationError{PolicyID: policyID, Reason: "malformed read_config response", Err: err}
	}
	raw, ok := files[configDocumentKey]
	if !ok {
		return "", &botcore.ConfigurationError{PolicyID: policyID, Reason: "config.yml absent"}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", &botcore.ConfigurationError{PolicyID: policyID, Reason: "config.yml is not a string", Err: err}
	}
	return text, nil
}

// credentialResponse 兼容两种返回结构：顶层 api_key_value，或嵌套在 api_key_value_pair 中。
type credentialResponse struct {
	APIKeyValue string `json:"api_key_value"`
	Pair        *struct {
		APIKeyValue string `json:"api_key_value"`
	} `json:"api_key_value_pair"`
}

var errNoCredential = errors.New("no api key found")

// FetchCredential 读取策略绑定的 LLM 密钥。
func (c *Client) FetchCredential(ctx context.Context, token, policyID string) (botcore.Credential, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/llm_api_key", url.Values{"config_id": {policyID}}, token, nil)
	if err != nil {
		return "", &botcore.CredentialError{PolicyID: policyID, Err: err}
	}
	body, err := c.do(req)
	if err != nil {
		return "", &botcore.CredentialError{PolicyID: policyID, Err: err}
	}

	var cr credentialResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", &botcore.CredentialError{PolicyID: policyID, Err: err}
	}
	key := cr.APIKeyValue
	if key == "" && cr.Pair != nil {
		key = cr.Pair.APIKeyValue
	}
	if key == "" {
		return "", &botcore.CredentialError{PolicyID: policyID, Err: errNoCredential}
	}
	return botcore.Credential(key), nil
}
