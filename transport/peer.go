package transport

import (
	"context"
	"fmt"
	"log"
	"math/rand"
)

// peerPort is the fixed HTTP port every node listens on
// (http://<name>:8000/<path>).
const peerPort = 8000

// PeerAdapter addresses peers by name and drives the participant-side
// propose/retry logic against the authority list.
type PeerAdapter struct {
	transport Transport
}

// NewPeerAdapter wraps transport with name-based peer addressing.
func NewPeerAdapter(transport Transport) *PeerAdapter {
	return &PeerAdapter{transport: transport}
}

// URL builds the canonical address of path on the node named name.
func (p *PeerAdapter) URL(name, path string) string {
	return fmt.Sprintf("http://%s:%d/%s", name, peerPort, path)
}

// Post sends body to path on the node named name and returns the decoded
// status and raw response bytes.
func (p *PeerAdapter) Post(ctx context.Context, name, path string, body any) ([]byte, int, error) {
	return p.transport.Post(ctx, p.URL(name, path), body)
}

// Get fetches path on the node named name.
func (p *PeerAdapter) Get(ctx context.Context, name, path string) ([]byte, int, error) {
	return p.transport.Get(ctx, p.URL(name, path))
}

// SubmitToRandomAuthority posts body to a uniformly random authority from
// authorities, retrying up to 3 times with a fresh random choice on each
// non-2xx or transport failure. It gives up and returns the last error once
// attempts are exhausted, mirroring the source's accept_transaction retry
// loop.
func (p *PeerAdapter) SubmitToRandomAuthority(ctx context.Context, authorities []string, path string, body any) ([]byte, string, error) {
	if len(authorities) == 0 {
		return nil, "", fmt.Errorf("transport: no authorities configured")
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		authority := authorities[rand.Intn(len(authorities))]
		data, status, err := p.Post(ctx, authority, path, body)
		if err != nil {
			log.Printf("[transport] attempt %d: %s unreachable: %v", attempt+1, authority, err)
			lastErr = err
			continue
		}
		if status < 200 || status >= 300 {
			log.Printf("[transport] attempt %d: %s returned status %d", attempt+1, authority, status)
			lastErr = fmt.Errorf("transport: %s returned status %d", authority, status)
			continue
		}
		return data, authority, nil
	}
	return nil, "", fmt.Errorf("transport: all %d attempts failed: %w", maxAttempts, lastErr)
}
