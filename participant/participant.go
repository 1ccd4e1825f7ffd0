// Package participant implements the participant role: a pending-proposal
// queue addressed by numeric position, and the propose/accept/deposit flows
// that submit transactions to the authority set.
package participant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonaspfi/ledgernode/crypto"
	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/transport"
)

// ErrTransactionManipulated is returned by Accept when the pending entry's
// current_hash no longer matches its recomputed hash. The message is
// carried verbatim from the source protocol since operators see it as-is.
var ErrTransactionManipulated = errors.New("Transaction was manipulated")

// expirationWindow is how far in the future a proposed transaction's
// expiration is set.
const expirationWindow = 10 * time.Minute

// PendingQueue holds transactions this node has received but not yet
// accepted, addressed by their arrival-ordered numeric position.
type PendingQueue struct {
	mu  sync.Mutex
	txs []ledger.Transaction
}

// Add appends tx to the queue and returns its position.
func (q *PendingQueue) Add(tx ledger.Transaction) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.txs = append(q.txs, tx)
	return len(q.txs) - 1
}

// At returns the pending transaction at position, or an error if out of
// range.
func (q *PendingQueue) At(position int) (ledger.Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if position < 0 || position >= len(q.txs) {
		return ledger.Transaction{}, fmt.Errorf("participant: invalid transaction index %d", position)
	}
	return q.txs[position], nil
}

// All returns a copy of the pending queue, oldest first.
func (q *PendingQueue) All() []ledger.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ledger.Transaction, len(q.txs))
	copy(out, q.txs)
	return out
}

// Participant drives the participant-role flows against the chain and the
// configured authority set.
type Participant struct {
	name        string
	priv        crypto.PrivateKey
	chain       *ledger.Chain
	authorities []string
	peers       *transport.PeerAdapter
	resolver    ledger.KeyResolver
	clock       transport.Clock

	Pending PendingQueue
}

// NewParticipant constructs a Participant for name.
func NewParticipant(name string, priv crypto.PrivateKey, chain *ledger.Chain, authorities []string, peers *transport.PeerAdapter, resolver ledger.KeyResolver, clock transport.Clock) *Participant {
	return &Participant{
		name:        name,
		priv:        priv,
		chain:       chain,
		authorities: authorities,
		peers:       peers,
		resolver:    resolver,
		clock:       clock,
	}
}

// Propose builds, signs (as sender) and sends a transfer of amount to
// recipient's /receive_transaction endpoint.
func (p *Participant) Propose(ctx context.Context, recipient string, amount float64) (ledger.Transaction, error) {
	tip, err := p.chain.Tip()
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("participant: no chain tip: %w", err)
	}

	tx := ledger.Transaction{
		Index:        tip.Index + 1,
		Sender:       p.name,
		Recipient:    recipient,
		Amount:       amount,
		PreviousHash: tip.CurrentHash,
		Expiration:   p.clock.Now().Add(expirationWindow).Format(time.RFC3339),
	}
	tx.CurrentHash = tx.Hash()

	sig, err := crypto.Sign(p.priv, []byte(tx.CurrentHash))
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("participant: sign proposal: %w", err)
	}
	tx.SenderSignature = sig
	tx.Timestamp = p.clock.Now().Format(time.RFC3339)

	if _, _, err := p.peers.Post(ctx, recipient, "receive_transaction", tx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("participant: send to %s: %w", recipient, err)
	}
	return tx, nil
}

// Receive enqueues an inbound proposal and returns its pending position.
func (p *Participant) Receive(tx ledger.Transaction) int {
	return p.Pending.Add(tx)
}

// Accept recomputes the pending entry's hash, signs it as recipient, and
// submits it to a random authority, retrying as PeerAdapter.SubmitToRandomAuthority
// does. Returns an error with the literal tamper message if the stored hash
// no longer matches the recomputed one.
func (p *Participant) Accept(ctx context.Context, position int) ([]byte, error) {
	tx, err := p.Pending.At(position)
	if err != nil {
		return nil, err
	}

	if tx.Hash() != tx.CurrentHash {
		return nil, ErrTransactionManipulated
	}

	sig, err := crypto.Sign(p.priv, []byte(tx.CurrentHash))
	if err != nil {
		return nil, fmt.Errorf("participant: sign acceptance: %w", err)
	}
	tx.RecipientSignature = sig

	data, _, err := p.peers.SubmitToRandomAuthority(ctx, p.authorities, "verify_transaction", tx)
	if err != nil {
		return nil, fmt.Errorf("participant: submit to authority: %w", err)
	}
	return data, nil
}

// Balance returns the participant's own balance as seen by its local chain
// view.
func (p *Participant) Balance() float64 {
	return p.chain.Balance(p.name)
}

// Name returns the participant's own node name.
func (p *Participant) Name() string { return p.name }

// Chain exposes the underlying ledger for read-only HTTP handlers.
func (p *Participant) Chain() *ledger.Chain { return p.chain }

// PublicKeyPEM returns the PEM encoding of this participant's public key.
func (p *Participant) PublicKeyPEM() []byte { return p.priv.Public().PEM() }

// HandleSynchronize implements /synchronize: adopt candidate if it is
// strictly longer and passes VerifyWholeChain.
func (p *Participant) HandleSynchronize(ctx context.Context, candidate []ledger.Transaction) (string, error) {
	swapped, err := p.chain.Synchronize(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "nothing to synchronize", nil
	}
	return "synchronized", nil
}

// HandleAddToChain implements /add_to_chain for a participant: an authority
// replaying a commit it just accepted. Mirrors the authority's own
// HandleAddToChain minus the further forward-to-participants fan-out,
// which only an authority drives, and minus the recency cache: a repeat of
// an already-applied commit fails verification and is reported as not
// added.
func (p *Participant) HandleAddToChain(ctx context.Context, tx ledger.Transaction) (string, error) {
	if err := p.chain.VerifyAuthorityTransaction(ctx, tx, p.authorities, p.resolver); err != nil {
		return "transaction not added", nil
	}
	if err := p.chain.Append(tx); err != nil {
		return "transaction not added", nil
	}
	return "transaction added", nil
}

// Join asks an authority to record this participant and push its chain.
func (p *Participant) Join(ctx context.Context, authority string) error {
	_, _, err := p.peers.Post(ctx, authority, "join", struct {
		Name string `json:"name"`
	}{Name: p.name})
	if err != nil {
		return fmt.Errorf("participant: join via %s: %w", authority, err)
	}
	return nil
}

// RequestDeposit asks authority to construct a self-transfer deposit and
// returns the unsigned transaction for SignDeposit to complete.
func (p *Participant) RequestDeposit(ctx context.Context, authority string, amount float64) (ledger.Transaction, error) {
	data, status, err := p.peers.Post(ctx, authority, "auth_deposit_money", struct {
		Name   string  `json:"name"`
		Amount float64 `json:"amount"`
	}{Name: p.name, Amount: amount})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("participant: request deposit: %w", err)
	}
	if status < 200 || status >= 300 {
		return ledger.Transaction{}, fmt.Errorf("participant: request deposit: status %d", status)
	}
	var tx ledger.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("participant: decode deposit transaction: %w", err)
	}
	return tx, nil
}

// SignDeposit signs tx as both sender and recipient (a deposit is a
// self-transfer) and submits it back to the authority for verification.
func (p *Participant) SignDeposit(ctx context.Context, authority string, tx ledger.Transaction) (string, error) {
	sig, err := crypto.Sign(p.priv, []byte(tx.CurrentHash))
	if err != nil {
		return "", fmt.Errorf("participant: sign deposit: %w", err)
	}
	tx.SenderSignature = sig
	tx.RecipientSignature = sig

	data, _, err := p.peers.Post(ctx, authority, "verify_transaction", tx)
	if err != nil {
		return "", fmt.Errorf("participant: submit deposit: %w", err)
	}
	return string(data), nil
}
