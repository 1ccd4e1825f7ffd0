package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// PublicKeyResolver fetches a node's public key PEM over the wire.
type PublicKeyResolver interface {
	PublicKey(ctx context.Context, name string) ([]byte, error)
}

type peerResolver struct {
	peers *PeerAdapter
}

// NewPublicKeyResolver returns a PublicKeyResolver backed by peers.
func NewPublicKeyResolver(peers *PeerAdapter) PublicKeyResolver {
	return &peerResolver{peers: peers}
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// PublicKey calls GET /public_key on the node named name and returns the PEM
// bytes.
func (r *peerResolver) PublicKey(ctx context.Context, name string) ([]byte, error) {
	data, status, err := r.peers.Get(ctx, name, "public_key")
	if err != nil {
		return nil, fmt.Errorf("resolve public key for %s: %w", name, err)
	}
	if status != 200 {
		return nil, fmt.Errorf("resolve public key for %s: status %d", name, status)
	}
	var resp publicKeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("resolve public key for %s: decode: %w", name, err)
	}
	return []byte(resp.PublicKey), nil
}
