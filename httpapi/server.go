// Package httpapi exposes the node's HTTP surface: the endpoints any node
// answers regardless of role, plus the authority-only and participant-only
// endpoints registered depending on which role this process runs.
package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jonaspfi/ledgernode/ledger"
)

// maxBodyBytes bounds inbound request bodies to prevent memory exhaustion.
const maxBodyBytes = 1 * 1024 * 1024

// Server is the node's HTTP front end.
type Server struct {
	addr      string
	authToken string // empty → no auth required
	pubKeyPEM []byte
	chain     *ledger.Chain

	tlsConfig *tls.Config

	mux *http.ServeMux
	srv *http.Server
	ln  net.Listener
}

// SetTLSConfig enables mTLS on subsequent calls to Start. Pass nil to fall
// back to plain HTTP.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// NewServer creates a Server on addr answering for a node whose public key
// is pubKeyPEM and whose ledger view is chain. If authToken is non-empty,
// every request must carry a matching "Authorization: Bearer <token>"
// header. Call RegisterAuthority and/or RegisterParticipant afterward to
// wire in role-specific endpoints.
func NewServer(addr string, authToken string, pubKeyPEM []byte, chain *ledger.Chain) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		pubKeyPEM: pubKeyPEM,
		chain:     chain,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/transactions", s.handleTransactions)
	s.mux.HandleFunc("/public_key", s.handlePublicKey)
	s.mux.HandleFunc("/verify_chain", s.handleVerifyChain)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(s.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handle registers an additional endpoint. Used by RegisterAuthority and
// RegisterParticipant.
func (s *Server) Handle(path string, fn http.HandlerFunc) {
	s.mux.HandleFunc(path, fn)
}

// Start binds the port synchronously, then serves in a background goroutine.
// If SetTLSConfig was called with a non-nil config, the listener requires
// and verifies client certificates (mTLS between nodes).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[httpapi] server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener's address. Useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts down the server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.authToken {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"error": "unauthorized"})
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"message": "Hello from the ledger node!"})
}

func (s *Server) handleTransactions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"transactions": s.chain.All()})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"public_key": string(s.pubKeyPEM)})
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	if err := s.chain.VerifyWholeChain(r.Context()); err != nil {
		writeJSON(w, map[string]string{"error": "Chain verification failed"})
		return
	}
	writeJSON(w, map[string]string{"message": "Chain is valid"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
