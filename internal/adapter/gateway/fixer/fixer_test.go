package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFix_ValidBodyUnchanged(t *testing.T) {
	body := []byte(`{"ok":true}`)
	result := Fix(body, false)

	assert.Equal(t, body, result.Body)
	assert.Empty(t, result.Header)
	assert.Nil(t, result.Setting)
}

func TestFix_RepairsInvalidUTF8(t *testing.T) {
	body := []byte{'{', '"', 'a', '"', ':', '"', 0xff, '"', '}'}

	result := Fix(body, false)

	assert.Contains(t, result.Header, "encoding")
	assert.NotNil(t, result.Setting)
	assert.Equal(t, SpecialSettingTypeFix, result.Setting.Type)
}

func TestFix_RepairsMissingSSETerminator(t *testing.T) {
	body := []byte("data: {\"token\":\"hi\"}\n")

	result := Fix(body, true)

	assert.Contains(t, result.Header, "sse_shape")
	assert.Equal(t, []byte("data: {\"token\":\"hi\"}\n\n"), result.Body)
}

func TestFix_SSEAlreadyTerminatedUnchanged(t *testing.T) {
	body := []byte("data: {\"token\":\"hi\"}\n\n")

	result := Fix(body, true)

	assert.Empty(t, result.Header)
	assert.Equal(t, body, result.Body)
}

func TestFix_RepairsTruncatedJSONObject(t *testing.T) {
	body := []byte(`{"outer":{"inner":"value"`)

	result := Fix(body, false)

	assert.Contains(t, result.Header, "truncated_json")
	assert.Equal(t, `{"outer":{"inner":"value"}}`, string(result.Body))
}

func TestFix_TruncatedJSONInsideOpenString(t *testing.T) {
	body := []byte(`{"outer":"unterminated`)

	result := Fix(body, false)

	assert.Contains(t, result.Header, "truncated_json")
	assert.Equal(t, `{"outer":"unterminated"}`, string(result.Body))
}

func TestFix_EmptyBodyUnchanged(t *testing.T) {
	result := Fix(nil, false)
	assert.Empty(t, result.Header)
	assert.Nil(t, result.Body)
}

func TestFix_MultipleFixesJoinedInHeader(t *testing.T) {
	body := []byte{'{', '"', 'a', '"', ':', '"', 0xff}

	result := Fix(body, false)

	assert.Contains(t, result.Header, "encoding")
	assert.Contains(t, result.Header, "truncated_json")
}
