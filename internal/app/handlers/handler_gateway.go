package handlers

import (
	"net/http"
	"strings"

	"github.com/thushan/olla-gateway/internal/core/ports"
)

// SetGatewayProxy wires the CLI-proxy gateway service into the
// application. Additive: existing Ollama-proxy routes and handlers are
// untouched, so a deployment that never calls this keeps behaving
// exactly as before.
func (a *Application) SetGatewayProxy(svc ports.GatewayProxyService) {
	a.gatewayProxy = svc
}

// RegisterGatewayRoutes mounts the CLI-proxy gateway under
// /gateway/{cli_key}/..., forwarding everything after the CLI key as the
// inbound path the failover loop composes against a provider base URL.
func (a *Application) RegisterGatewayRoutes() {
	if a.gatewayProxy == nil || a.routeRegistry == nil {
		return
	}
	a.routeRegistry.RegisterWithMethod("/gateway/", a.gatewayHandler, "CLI-proxy gateway (multi-provider failover)", "POST")
}

func (a *Application) gatewayHandler(w http.ResponseWriter, r *http.Request) {
	if a.gatewayProxy == nil {
		http.NotFound(w, r)
		return
	}

	cliKey, rest, ok := splitGatewayPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	r.URL.Path = rest

	_, _ = a.gatewayProxy.ProxyGatewayRequest(r.Context(), w, r, cliKey)
}

// splitGatewayPath turns "/gateway/claude-code/v1/messages" into
// ("claude-code", "/v1/messages", true).
func splitGatewayPath(path string) (cliKey, rest string, ok bool) {
	const prefix = "/gateway/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(path, prefix)
	idx := strings.IndexByte(trimmed, '/')
	if idx <= 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx:], true
}
