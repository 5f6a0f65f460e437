package llm

import (
	"github.com/sashabaranov/go-openai"
	"termsai/backend/pkg/config"
	apperrors "termsai/backend/pkg/errors"
)

// Gateway resolves a logical model name to a configured API client.
// Each supported model family maps to a distinct endpoint/credential pair.
// The gateway does not retry; retrying is layered above in Caller.
type Gateway struct {
	cfg *config.Config
}

// NewGateway creates a new gateway from provider configuration
func NewGateway(cfg *config.Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// ClientFor returns an API client bound to the endpoint and credential for
// the given model. An unrecognized model name is a configuration error.
func (g *Gateway) ClientFor(model string) (*openai.Client, error) {
	switch model {
	case "deepseek-reasoner", "deepseek-chat":
		clientConfig := openai.DefaultConfig(g.cfg.DeepseekAPIKey)
		clientConfig.BaseURL = "https://api.deepseek.com"
		return openai.NewClientWithConfig(clientConfig), nil
	case "gpt-4o", "gpt-4o-mini":
		return openai.NewClient(g.cfg.OpenAIAPIKey), nil
	case "deepseek-ai/DeepSeek-V3", "Qwen/Qwen2.5-72B-Instruct", "Pro/deepseek-ai/DeepSeek-V3":
		clientConfig := openai.DefaultConfig(g.cfg.SiliconFlowAPIKey)
		clientConfig.BaseURL = "https://api.siliconflow.cn/v1"
		return openai.NewClientWithConfig(clientConfig), nil
	case "deepseek-v3":
		clientConfig := openai.DefaultConfig(g.cfg.DashscopeAPIKey)
		clientConfig.BaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		return openai.NewClientWithConfig(clientConfig), nil
	default:
		return nil, apperrors.NewUnsupportedModel(model)
	}
}

// supportsJSONMode reports whether the model family accepts a strict JSON
// response format. The SiliconFlow DeepSeek-V3 deployments reject it.
func supportsJSONMode(model string) bool {
	switch model {
	case "deepseek-ai/DeepSeek-V3", "Pro/deepseek-ai/DeepSeek-V3":
		return false
	}
	return true
}
