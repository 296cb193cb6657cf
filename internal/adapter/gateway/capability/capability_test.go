package capability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterDefaultsAndLookup(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)

	for _, key := range []string{"claude-code", "codex", "gemini-cli"} {
		f, ok := r.Lookup(key)
		require.True(t, ok, "expected family %q registered", key)
		assert.Equal(t, key, f.Key())
	}

	_, ok := r.Lookup("unknown-cli")
	assert.False(t, ok)
}

func TestClaudeCodeFamily_PrepareAuth(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	ClaudeCodeFamily{}.PrepareAuth(req, "secret-key")

	assert.Equal(t, "secret-key", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))
}

func TestClaudeCodeFamily_ExtractSession(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("x-session-id", "sess-abc")

	id, ok := ClaudeCodeFamily{}.ExtractSession(req, nil)
	assert.True(t, ok)
	assert.Equal(t, "sess-abc", id)

	noHeader := httptest.NewRequest("POST", "/v1/messages", nil)
	_, ok = ClaudeCodeFamily{}.ExtractSession(noHeader, nil)
	assert.False(t, ok)
}

func TestClaudeCodeFamily_DetectWarmup(t *testing.T) {
	warmup := []byte(`{"messages":[{"role":"user","content":"hi"}],"max_tokens":1}`)
	assert.True(t, ClaudeCodeFamily{}.DetectWarmup(warmup))

	real := []byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"ok"}],"max_tokens":1024}`)
	assert.False(t, ClaudeCodeFamily{}.DetectWarmup(real))
}

func TestClaudeCodeFamily_ClassifyNonRetryable400(t *testing.T) {
	overloaded := []byte(`{"error":{"message":"overloaded_error"}}`)
	assert.False(t, ClaudeCodeFamily{}.ClassifyNonRetryable400(overloaded))

	clientErr := []byte(`{"error":{"message":"invalid request"}}`)
	assert.True(t, ClaudeCodeFamily{}.ClassifyNonRetryable400(clientErr))
}

func TestCodexFamily_PrepareAuth(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/responses", nil)
	CodexFamily{}.PrepareAuth(req, "tok")
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
}

func TestCodexFamily_ExtractSession_PrefersQueryThenBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/responses?conversation_id=conv-1", nil)
	id, ok := CodexFamily{}.ExtractSession(req, nil)
	assert.True(t, ok)
	assert.Equal(t, "conv-1", id)

	reqNoQuery := httptest.NewRequest("POST", "/v1/responses", nil)
	id, ok = CodexFamily{}.ExtractSession(reqNoQuery, []byte(`{"previous_response_id":"resp-1"}`))
	assert.True(t, ok)
	assert.Equal(t, "resp-1", id)
}

func TestGeminiCLIFamily_PrepareAuth_SetsQueryParam(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1beta/models/gemini-pro:generateContent", nil)
	GeminiCLIFamily{}.PrepareAuth(req, "api-key-1")
	assert.Equal(t, "api-key-1", req.URL.Query().Get("key"))
}

func TestGeminiCLIFamily_DetectWarmup_EmptyBody(t *testing.T) {
	assert.True(t, GeminiCLIFamily{}.DetectWarmup(nil))
	assert.False(t, GeminiCLIFamily{}.DetectWarmup([]byte(`{"contents":[]}`)))
}
