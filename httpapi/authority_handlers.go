package httpapi

import (
	"net/http"

	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/protocol"
)

// RegisterAuthority wires every authority-only endpoint to a.
func (s *Server) RegisterAuthority(a *protocol.Authority) {
	s.Handle("/verify_transaction", s.handleVerifyTransaction(a))
	s.Handle("/prepare_transaction", s.handlePrepareTransaction(a))
	s.Handle("/add_to_chain", s.handleAddToChain(a))
	s.Handle("/unlock_transaction", s.handleUnlockTransaction(a))
	s.Handle("/join", s.handleJoin(a))
	s.Handle("/synchronize", s.handleSynchronize(a))
	s.Handle("/auth_deposit_money", s.handleAuthDepositMoney(a))
}

func (s *Server) handleVerifyTransaction(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx ledger.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		msg, err := a.VerifyTransaction(r.Context(), tx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": msg})
	}
}

func (s *Server) handlePrepareTransaction(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.PrepareRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, a.HandlePrepareTransaction(req))
	}
}

func (s *Server) handleAddToChain(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx ledger.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		msg, err := a.HandleAddToChain(r.Context(), tx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": msg})
	}
}

func (s *Server) handleUnlockTransaction(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a.HandleUnlockTransaction()
		writeJSON(w, map[string]string{"message": "unlocked"})
	}
}

func (s *Server) handleJoin(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		if err := a.HandleJoin(r.Context(), req.Name); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": "joined"})
	}
}

func (s *Server) handleSynchronize(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transactions []ledger.Transaction `json:"transactions"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		msg, err := a.HandleSynchronize(r.Context(), req.Transactions)
		if err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": msg})
	}
}

func (s *Server) handleAuthDepositMoney(a *protocol.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string  `json:"name"`
			Amount float64 `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		tx, err := a.HandleAuthDepositMoney(req.Name, req.Amount)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, tx)
	}
}
