// Package transport implements outbound HTTP/JSON calls to peer nodes and
// the small external-collaborator interfaces (Transport, PublicKeyResolver,
// Clock) the protocol engine drives against.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport performs a single POST of a JSON body to url and returns the
// response body and status code. Implementations must not retry; retry
// policy belongs to callers (PeerAdapter).
type Transport interface {
	Post(ctx context.Context, url string, body any) ([]byte, int, error)
	Get(ctx context.Context, url string) ([]byte, int, error)
}

// httpTransport is the production Transport, backed by net/http.Client with
// conservative timeouts so a wedged peer cannot stall a commit round
// indefinitely.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport with the given per-request timeout.
// Pass a non-nil tlsConfig to dial peers over mTLS.
func NewHTTPTransport(timeout time.Duration, tlsConfig *tls.Config) Transport {
	client := &http.Client{Timeout: timeout}
	if tlsConfig != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return &httpTransport{client: client}
}

func (t *httpTransport) Post(ctx context.Context, url string, body any) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *httpTransport) Get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: build request: %w", err)
	}
	return t.do(req)
}

func (t *httpTransport) do(req *http.Request) ([]byte, int, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("transport: read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}
