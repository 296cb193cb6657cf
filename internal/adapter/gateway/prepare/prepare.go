// Package prepare implements C5: turning a raw inbound request into a
// PreparedRequest ready for the failover loop to send to a provider's
// base URL — body-size enforcement, gzip introspection, model/thinking
// inference, session extraction, warmup short-circuit, hop-by-hop header
// stripping, URL composition (with /v1 and /v1beta collapse) and the
// per-attempt auth + model-slot rewrite that must happen fresh for each
// provider the failover loop tries.
package prepare

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/thushan/olla-gateway/internal/adapter/gateway/capability"
	"github.com/thushan/olla-gateway/internal/core/domain"
)

// MaxRequestBodyBytes bounds how much of the client body the gateway
// buffers for fingerprinting/model inference/session extraction.
const MaxRequestBodyBytes = 10 << 20 // 10 MiB

// MaxIntrospectionBodyBytes bounds the gzip-decoded side copy used only
// for fingerprinting/model inference. It never replaces the outbound
// body, so a generous cap here only affects what inferModel can see.
const MaxIntrospectionBodyBytes = 2 << 20 // 2 MiB

// MaxRequestedModelLen bounds the sanitized requested-model string.
const MaxRequestedModelLen = 200

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
	"Host", "Content-Length",
}

// Prepared is the outcome of preparing one inbound request, independent
// of which provider it will ultimately be sent to.
type Prepared struct {
	Body              []byte
	RequestedModel    string
	HasThinking       bool
	SessionID         string
	HasSession        bool
	IsWarmup          bool
	Fingerprint       domain.RequestFingerprint
	InboundPath       string
	InboundQuery      string
}

// Prepare reads and caps the body, decompressing it first if the client
// sent it gzip-encoded, then asks the CLI family to infer model/session
// info from it.
func Prepare(r *http.Request, cliKey string, family capability.Family) (Prepared, error) {
	body, err := readCappedBody(r)
	if err != nil {
		return Prepared{}, err
	}

	introspect := introspectionCopy(r.Header.Get("Content-Encoding"), body)

	model, hasThinking := inferModel(introspect, r.URL.RawQuery, r.URL.Path)
	sessionID, hasSession := family.ExtractSession(r, introspect)
	isWarmup := family.DetectWarmup(introspect)

	fp := domain.RequestFingerprint{
		CLIKey:             cliKey,
		Method:             r.Method,
		Path:               r.URL.Path,
		Query:              r.URL.RawQuery,
		SessionID:          sessionID,
		Model:              model,
		IdempotencyKeyHash: hashBody([]byte(r.Header.Get("Idempotency-Key"))),
		BodyHash:           hashBody(body),
		BodyLen:            len(body),
	}

	return Prepared{
		Body:           body,
		RequestedModel: model,
		HasThinking:    hasThinking,
		SessionID:      sessionID,
		HasSession:     hasSession,
		IsWarmup:       isWarmup,
		Fingerprint:    fp,
		InboundPath:    r.URL.Path,
		InboundQuery:   r.URL.RawQuery,
	}, nil
}

// readCappedBody reads and size-bounds the raw request body. The bytes
// returned here are always forwarded upstream unchanged: a client that
// sent a gzip-encoded body keeps Content-Encoding: gzip and the gzipped
// bytes, so upstream decodes it itself. Gzip is only ever decoded into a
// separate introspection copy, never substituted for the outbound body.
func readCappedBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, MaxRequestBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, &domain.GatewayError{Code: domain.GWErrRequestAborted, Message: "failed reading request body", Category: domain.ErrCategorySystem, Cause: err}
	}
	if int64(len(raw)) > MaxRequestBodyBytes {
		return nil, &domain.GatewayError{Code: domain.GWErrBodyTooLarge, Message: "request body exceeds limit", Category: domain.ErrCategoryNonRetryableClient}
	}
	return raw, nil
}

// introspectionCopy returns a bounded, best-effort gunzip of body for
// fingerprinting/model inference only. It never replaces the outbound
// body (see readCappedBody); a decode failure just falls back to the
// raw bytes rather than rejecting the request.
func introspectionCopy(contentEncoding string, body []byte) []byte {
	if contentEncoding != "gzip" {
		return body
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return body
	}
	defer gz.Close()
	decoded, err := io.ReadAll(io.LimitReader(gz, MaxIntrospectionBodyBytes))
	if err != nil && len(decoded) == 0 {
		return body
	}
	return decoded
}

// inferModel pulls the requested model name and whether extended
// thinking/reasoning was requested out of the common JSON body shapes
// (model + thinking.type=="enabled" or reasoning.effort present),
// falling back to the ?model= query parameter and then a /models/<name>
// path segment when the body carries no model field.
func inferModel(body []byte, rawQuery, path string) (model string, hasThinking bool) {
	root := gjson.ParseBytes(body)
	if m := root.Get("model"); m.Exists() {
		if m.IsObject() {
			if name := m.Get("name"); name.Exists() {
				model = name.String()
			} else if id := m.Get("id"); id.Exists() {
				model = id.String()
			}
		} else {
			model = m.String()
		}
	}

	if model == "" {
		if q, err := url.ParseQuery(rawQuery); err == nil {
			if v := q.Get("model"); v != "" {
				model = v
			}
		}
	}

	if model == "" {
		if idx := strings.Index(path, "/models/"); idx != -1 {
			rest := path[idx+len("/models/"):]
			if end := strings.IndexByte(rest, '/'); end != -1 {
				rest = rest[:end]
			}
			model = rest
		}
	}

	model = sanitizeModel(model)

	if t := root.Get("thinking.type"); t.Exists() && t.String() == "enabled" {
		hasThinking = true
	}
	if root.Get("reasoning.effort").Exists() || root.Get("reasoning_effort").Exists() {
		hasThinking = true
	}
	return model, hasThinking
}

func sanitizeModel(model string) string {
	model = strings.TrimSpace(model)
	if len(model) > MaxRequestedModelLen {
		model = model[:MaxRequestedModelLen]
	}
	return model
}

func hashBody(body []byte) string {
	// FNV-1a is sufficient here: this hash is only used to key an
	// in-process dedupe cache, not for security.
	var h uint64 = 1469598103934665603
	for _, b := range body {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return strings.TrimLeft(formatHex(h), "0")
}

func formatHex(v uint64) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// StripHopByHop removes headers that must not be forwarded upstream.
func StripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// ComposeUpstreamURL joins a provider base URL with the inbound path,
// collapsing a duplicated /v1 or /v1beta prefix that would otherwise
// appear twice when both the base URL and the inbound path carry it
// (common when a base URL already ends in /v1).
func ComposeUpstreamURL(baseURL, inboundPath, rawQuery string) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	path := inboundPath
	for _, prefix := range []string{"/v1beta", "/v1"} {
		if strings.HasSuffix(strings.TrimRight(base.Path, "/"), prefix) && strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}

	ref := &url.URL{Path: strings.TrimRight(base.Path, "/") + path, RawQuery: rawQuery}
	return base.ResolveReference(ref), nil
}

// RewriteModelForProvider applies a provider's model-slot mapping (if
// any) to the requested model for this attempt. Model rewriting is
// recomputed per attempt rather than once up front, since two providers
// the failover loop tries in sequence can map the same requested model
// to different backend models.
func RewriteModelForProvider(p *domain.GatewayProvider, requestedModel string, hasThinking bool) string {
	if p == nil || len(p.ModelSlots) == 0 {
		return requestedModel
	}
	return p.ModelSlots.EffectiveModel(requestedModel, hasThinking)
}

// ApplyModelRewrite rewrites the "model" field of a JSON body in place,
// returning a new body if the field needed to change.
func ApplyModelRewrite(body []byte, newModel string) []byte {
	current := gjson.GetBytes(body, "model").String()
	if current == newModel || newModel == "" {
		return body
	}
	updated, err := sjson.SetBytes(body, "model", newModel)
	if err != nil {
		return body
	}
	return updated
}
