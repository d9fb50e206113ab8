package ai

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

// ModelSpec 描述策略配置中声明的单个模型。
type ModelSpec struct {
	Model  string `json:"model" yaml:"model"`   // e.g., "gpt-4o", "claude-3-5-sonnet"
	Engine string `json:"engine" yaml:"engine"` // e.g., "openai", "anthropic", "google"
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// PolicyDocument 是审核平台下发的 config.yml 中与补全相关的部分。
// 其余字段（rails、instructions 等）由审核平台自身使用，这里忽略。
type PolicyDocument struct {
	Models []ModelSpec `json:"models" yaml:"models"`
}

// ParsePolicyDocument 解析策略的 config.yml，返回 models 中的第一项。
func ParsePolicyDocument(policyID, text string) (ModelSpec, error) {
	if strings.TrimSpace(text) == "" {
		return ModelSpec{}, &botcore.ConfigurationError{PolicyID: policyID, Reason: "empty config document"}
	}

	var doc PolicyDocument
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return ModelSpec{}, &botcore.ConfigurationError{PolicyID: policyID, Reason: "failed to parse config document", Err: err}
	}
	if len(doc.Models) == 0 {
		return ModelSpec{}, &botcore.ConfigurationError{PolicyID: policyID, Reason: "no models declared"}
	}

	spec := doc.Models[0]
	spec.Model = strings.TrimSpace(spec.Model)
	spec.Engine = strings.TrimSpace(spec.Engine)
	if spec.Model == "" || spec.Engine == "" {
		return ModelSpec{}, &botcore.ConfigurationError{
			PolicyID: policyID,
			Reason:   fmt.Sprintf("model entry incomplete (model=%q engine=%q)", spec.Model, spec.Engine),
		}
	}
	return spec, nil
}
