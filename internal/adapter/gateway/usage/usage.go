// Package usage implements C9: per-family token usage extraction from
// either a whole JSON response body or a single decoded SSE event,
// normalised into domain.UsageMetrics. Built on gjson for the common
// case (no schema validation needed, just pulling numeric fields out of
// a known upstream shape) and jsonpath for families whose usage block is
// nested at a variable depth.
package usage

import (
	"github.com/tidwall/gjson"

	"github.com/thushan/olla-gateway/internal/core/domain"
)

// AnthropicStyleParser handles the Claude-family usage shape: a top
// level or message.usage object with input_tokens/output_tokens plus
// cache_creation_input_tokens/cache_read_input_tokens, where cache
// tokens are additive to input_tokens (not a subset of it).
type AnthropicStyleParser struct{}

func (AnthropicStyleParser) cacheTokensAreSubset() bool { return false }

func (p AnthropicStyleParser) ParseWholeBody(body []byte) (domain.UsageMetrics, bool) {
	root := gjson.ParseBytes(body)
	usage := root.Get("usage")
	if !usage.Exists() {
		usage = root.Get("message.usage")
	}
	if !usage.Exists() {
		return domain.UsageMetrics{}, false
	}
	return p.fromUsageNode(usage), true
}

func (p AnthropicStyleParser) ParseSSEEvent(eventName string, data []byte) (domain.UsageMetrics, bool) {
	if eventName != "message_start" && eventName != "message_delta" {
		return domain.UsageMetrics{}, false
	}
	root := gjson.ParseBytes(data)
	usage := root.Get("message.usage")
	if !usage.Exists() {
		usage = root.Get("usage")
	}
	if !usage.Exists() {
		return domain.UsageMetrics{}, false
	}
	return p.fromUsageNode(usage), true
}

func (p AnthropicStyleParser) fromUsageNode(usage gjson.Result) domain.UsageMetrics {
	m := domain.UsageMetrics{CacheTokensAreSubset: p.cacheTokensAreSubset()}
	if v := usage.Get("input_tokens"); v.Exists() {
		n := v.Int()
		m.InputTokens = &n
	}
	if v := usage.Get("output_tokens"); v.Exists() {
		n := v.Int()
		m.OutputTokens = &n
	}
	if v := usage.Get("cache_creation_input_tokens"); v.Exists() {
		n := v.Int()
		m.CacheCreationInputTokens = &n
	}
	if v := usage.Get("cache_read_input_tokens"); v.Exists() {
		n := v.Int()
		m.CacheReadInputTokens = &n
	}
	return m
}

// OpenAIStyleParser handles the Codex/Responses-API usage shape: a
// top-level usage object with prompt_tokens/completion_tokens and a
// nested prompt_tokens_details.cached_tokens that is already a subset of
// prompt_tokens.
type OpenAIStyleParser struct{}

func (OpenAIStyleParser) ParseWholeBody(body []byte) (domain.UsageMetrics, bool) {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		usage = gjson.GetBytes(body, "response.usage")
	}
	if !usage.Exists() {
		return domain.UsageMetrics{}, false
	}
	return fromOpenAIUsageNode(usage), true
}

func (OpenAIStyleParser) ParseSSEEvent(eventName string, data []byte) (domain.UsageMetrics, bool) {
	if eventName != "response.completed" && eventName != "response.done" {
		return domain.UsageMetrics{}, false
	}
	usage := gjson.GetBytes(data, "response.usage")
	if !usage.Exists() {
		return domain.UsageMetrics{}, false
	}
	return fromOpenAIUsageNode(usage), true
}

func fromOpenAIUsageNode(usage gjson.Result) domain.UsageMetrics {
	m := domain.UsageMetrics{CacheTokensAreSubset: true}
	if v := usage.Get("input_tokens"); v.Exists() {
		n := v.Int()
		m.InputTokens = &n
	} else if v := usage.Get("prompt_tokens"); v.Exists() {
		n := v.Int()
		m.InputTokens = &n
	}
	if v := usage.Get("output_tokens"); v.Exists() {
		n := v.Int()
		m.OutputTokens = &n
	} else if v := usage.Get("completion_tokens"); v.Exists() {
		n := v.Int()
		m.OutputTokens = &n
	}
	if v := usage.Get("input_tokens_details.cached_tokens"); v.Exists() {
		n := v.Int()
		m.CacheReadInputTokens = &n
	} else if v := usage.Get("prompt_tokens_details.cached_tokens"); v.Exists() {
		n := v.Int()
		m.CacheReadInputTokens = &n
	}
	if v := usage.Get("output_tokens_details.reasoning_tokens"); v.Exists() {
		n := v.Int()
		m.ReasoningTokens = &n
	}
	if v := usage.Get("total_tokens"); v.Exists() {
		n := v.Int()
		m.TotalTokens = &n
	}
	return m
}

// GeminiStyleParser handles the Gemini CLI usageMetadata shape, nested
// under candidates or at the top level depending on streaming vs
// whole-body response.
type GeminiStyleParser struct{}

func (GeminiStyleParser) ParseWholeBody(body []byte) (domain.UsageMetrics, bool) {
	meta := gjson.GetBytes(body, "usageMetadata")
	if !meta.Exists() {
		return domain.UsageMetrics{}, false
	}
	return fromGeminiUsageNode(meta), true
}

func (GeminiStyleParser) ParseSSEEvent(_ string, data []byte) (domain.UsageMetrics, bool) {
	meta := gjson.GetBytes(data, "usageMetadata")
	if !meta.Exists() {
		return domain.UsageMetrics{}, false
	}
	return fromGeminiUsageNode(meta), true
}

func fromGeminiUsageNode(meta gjson.Result) domain.UsageMetrics {
	m := domain.UsageMetrics{CacheTokensAreSubset: true}
	if v := meta.Get("promptTokenCount"); v.Exists() {
		n := v.Int()
		m.InputTokens = &n
	}
	if v := meta.Get("candidatesTokenCount"); v.Exists() {
		n := v.Int()
		m.OutputTokens = &n
	}
	if v := meta.Get("cachedContentTokenCount"); v.Exists() {
		n := v.Int()
		m.CacheReadInputTokens = &n
	}
	if v := meta.Get("thoughtsTokenCount"); v.Exists() {
		n := v.Int()
		m.ReasoningTokens = &n
	}
	if v := meta.Get("totalTokenCount"); v.Exists() {
		n := v.Int()
		m.TotalTokens = &n
	}
	return m
}

var (
	_ domain.UsageParser = AnthropicStyleParser{}
	_ domain.UsageParser = OpenAIStyleParser{}
	_ domain.UsageParser = GeminiStyleParser{}
)
