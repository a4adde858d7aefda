package mcpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-chain/tarsy/pkg/config"
)

// ErrManualAuthorizationHeader is returned when a server's configured HTTP
// headers set Authorization explicitly. The transport layer owns the
// Authorization header (derived from bearer_token) — a caller-supplied value
// would silently be overridden or, worse, leak a stale credential, so this
// is rejected at transport-construction time rather than tolerated.
var ErrManualAuthorizationHeader = fmt.Errorf("mcpclient: headers must not set Authorization manually; use bearer_token")

// createTransport builds the MCP SDK transport for one server's configured
// transport type. Only stdio and HTTP are supported; SSE is not part of the
// wired contract.
func createTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case config.TransportTypeStdio:
		return createStdioTransport(cfg)
	case config.TransportTypeHTTP:
		return createHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported MCP transport type %q", cfg.Type)
	}
}

func createStdioTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = environForStdio()
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires a url")
	}
	if _, set := headerLookup(cfg.Headers, "Authorization"); set {
		return nil, ErrManualAuthorizationHeader
	}

	httpClient, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	return &mcpsdk.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: httpClient,
	}, nil
}

// buildHTTPClient returns nil (use the SDK default transport) when no
// customization is configured, and a tailored *http.Client otherwise.
func buildHTTPClient(cfg config.TransportConfig) (*http.Client, error) {
	if cfg.BearerToken == "" && len(cfg.Headers) == 0 && cfg.VerifySSL == nil && cfg.Timeout == 0 {
		return nil, nil
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport type %T", http.DefaultTransport)
	}
	transport := base.Clone()

	if cfg.VerifySSL != nil && !*cfg.VerifySSL {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	var rt http.RoundTripper = transport
	if len(cfg.Headers) > 0 {
		rt = &headerTransport{base: rt, headers: cfg.Headers}
	}
	if cfg.BearerToken != "" {
		rt = &bearerTokenTransport{base: rt, token: cfg.BearerToken}
	}

	client := &http.Client{Transport: rt}
	if cfg.Timeout > 0 {
		client.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return client, nil
}

// bearerTokenTransport injects an Authorization: Bearer <token> header on
// every outgoing request. Clones the request before mutating headers so the
// caller's original request is never modified.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(cloned)
}

// headerTransport applies configured static headers to every outgoing
// request, excluding Authorization (rejected earlier, in createHTTPTransport).
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range t.headers {
		cloned.Header.Set(k, v)
	}
	return t.base.RoundTrip(cloned)
}

// headerLookup does a case-insensitive lookup in a configured header map.
func headerLookup(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if len(k) == len(key) && equalFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// environForStdio returns the child process environment: the parent's
// environment, as-is. Server-specific env overrides are not part of
// TransportConfig — the wired contract only needs command+args+env, and env
// here means "inherit the operator's process environment", consistent with
// how the chain executor itself is deployed (config, secrets via env vars).
func environForStdio() []string {
	return os.Environ()
}
