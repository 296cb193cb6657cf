package capability

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/thushan/olla-gateway/internal/adapter/gateway/usage"
	"github.com/thushan/olla-gateway/internal/core/domain"
)

// ClaudeCodeFamily targets the Anthropic Messages API shape used by
// Claude Code: bearer-free x-api-key auth, session id carried in a
// custom header, warmup detected via a single-token probe message.
type ClaudeCodeFamily struct{}

func (ClaudeCodeFamily) Key() string { return "claude-code" }

func (ClaudeCodeFamily) PrepareAuth(outReq *http.Request, credential string) {
	outReq.Header.Set("x-api-key", credential)
	outReq.Header.Set("anthropic-version", "2023-06-01")
}

func (ClaudeCodeFamily) ExtractSession(r *http.Request, _ []byte) (string, bool) {
	if v := r.Header.Get("x-session-id"); v != "" {
		return v, true
	}
	return "", false
}

func (ClaudeCodeFamily) ParseUsage() domain.UsageParser { return usage.AnthropicStyleParser{} }

func (ClaudeCodeFamily) DetectWarmup(body []byte) bool {
	msgs := gjson.GetBytes(body, "messages")
	return msgs.IsArray() && len(msgs.Array()) == 1 &&
		gjson.GetBytes(body, "max_tokens").Int() <= 1
}

func (ClaudeCodeFamily) ClassifyNonRetryable400(body []byte) bool {
	msg := gjson.GetBytes(body, "error.message").String()
	return msg != "" && msg != "overloaded_error"
}

// CodexFamily targets the OpenAI Responses-API shape used by Codex:
// bearer auth, session carried as a query-string conversation id.
type CodexFamily struct{}

func (CodexFamily) Key() string { return "codex" }

func (CodexFamily) PrepareAuth(outReq *http.Request, credential string) {
	outReq.Header.Set("Authorization", "Bearer "+credential)
}

func (CodexFamily) ExtractSession(r *http.Request, body []byte) (string, bool) {
	if v := r.URL.Query().Get("conversation_id"); v != "" {
		return v, true
	}
	if v := gjson.GetBytes(body, "previous_response_id"); v.Exists() {
		return v.String(), true
	}
	return "", false
}

func (CodexFamily) ParseUsage() domain.UsageParser { return usage.OpenAIStyleParser{} }

func (CodexFamily) DetectWarmup(body []byte) bool {
	return gjson.GetBytes(body, "input").String() == "" && gjson.GetBytes(body, "messages").String() == ""
}

func (CodexFamily) ClassifyNonRetryable400(body []byte) bool {
	return gjson.GetBytes(body, "error.type").String() == "invalid_request_error"
}

// GeminiCLIFamily targets the Gemini generateContent API shape: API key
// carried as a query parameter rather than a header, session tracked by
// a client-supplied correlation header since the upstream API itself is
// stateless.
type GeminiCLIFamily struct{}

func (GeminiCLIFamily) Key() string { return "gemini-cli" }

func (GeminiCLIFamily) PrepareAuth(outReq *http.Request, credential string) {
	q := outReq.URL.Query()
	q.Set("key", credential)
	outReq.URL.RawQuery = q.Encode()
}

func (GeminiCLIFamily) ExtractSession(r *http.Request, _ []byte) (string, bool) {
	if v := r.Header.Get("x-gemini-session"); v != "" {
		return v, true
	}
	return "", false
}

func (GeminiCLIFamily) ParseUsage() domain.UsageParser { return usage.GeminiStyleParser{} }

func (GeminiCLIFamily) DetectWarmup(body []byte) bool {
	return len(body) == 0
}

func (GeminiCLIFamily) ClassifyNonRetryable400(body []byte) bool {
	return gjson.GetBytes(body, "error.status").String() == "INVALID_ARGUMENT"
}

// RegisterDefaults registers the three supported CLI families.
func RegisterDefaults(r *Registry) {
	r.Register(ClaudeCodeFamily{})
	r.Register(CodexFamily{})
	r.Register(GeminiCLIFamily{})
}
