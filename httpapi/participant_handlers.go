package httpapi

import (
	"net/http"

	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/participant"
)

// RegisterParticipant wires every participant-only endpoint to p.
func (s *Server) RegisterParticipant(p *participant.Participant) {
	s.Handle("/get_balance", s.handleGetBalance(p))
	s.Handle("/send_transaction", s.handleSendTransaction(p))
	s.Handle("/receive_transaction", s.handleReceiveTransaction(p))
	s.Handle("/accept_transaction", s.handleAcceptTransaction(p))
	s.Handle("/add_to_chain", s.handleParticipantAddToChain(p))
	s.Handle("/show_transactions", s.handleShowTransactions(p))
	s.Handle("/deposit_money", s.handleDepositMoney(p))
	s.Handle("/sign_money_deposit", s.handleSignMoneyDeposit(p))
	s.Handle("/synchronize", s.handleParticipantSynchronize(p))
}

func (s *Server) handleGetBalance(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]float64{"balance": p.Balance()})
	}
}

func (s *Server) handleSendTransaction(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Container string  `json:"container"`
			Amount    float64 `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		tx, err := p.Propose(r.Context(), req.Container, req.Amount)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"message": "Transaction sent", "transaction": tx})
	}
}

func (s *Server) handleReceiveTransaction(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx ledger.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		p.Receive(tx)
		writeJSON(w, map[string]string{"message": "Transaction received"})
	}
}

func (s *Server) handleAcceptTransaction(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Number int `json:"number"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		data, err := p.Accept(r.Context(), req.Number)
		if err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeRaw(w, data)
	}
}

func (s *Server) handleParticipantAddToChain(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx ledger.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		msg, err := p.HandleAddToChain(r.Context(), tx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": msg})
	}
}

func (s *Server) handleShowTransactions(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"transaction requests": p.Pending.All()})
	}
}

func (s *Server) handleDepositMoney(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Authority string  `json:"name"`
			Amount    float64 `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		tx, err := p.RequestDeposit(r.Context(), req.Authority, req.Amount)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		result, err := p.SignDeposit(r.Context(), req.Authority, tx)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeRaw(w, []byte(result))
	}
}

func (s *Server) handleSignMoneyDeposit(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Authority   string             `json:"authority"`
			Transaction ledger.Transaction `json:"transaction"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		result, err := p.SignDeposit(r.Context(), req.Authority, req.Transaction)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeRaw(w, []byte(result))
	}
}

func (s *Server) handleParticipantSynchronize(p *participant.Participant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transactions []ledger.Transaction `json:"transactions"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		msg, err := p.HandleSynchronize(r.Context(), req.Transactions)
		if err != nil {
			writeJSON(w, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]string{"message": msg})
	}
}
