package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonaspfi/ledgernode/crypto"
	"github.com/jonaspfi/ledgernode/ledger"
	"github.com/jonaspfi/ledgernode/transport"
)

// watchdogInterval is how often the heartbeat task checks for a stuck lock.
const watchdogInterval = 1 * time.Second

// lockTimeout is how long a held lock may go unreleased before the
// watchdog clears it unilaterally.
const lockTimeout = 5 * time.Second

// Authority drives the 2PC commit protocol for one node acting in the
// authority role. All mutable state (the lock, connected participants) is
// owned here and guarded by mu; mu is never held across an outbound call.
type Authority struct {
	name        string
	authorities []string
	priv        crypto.PrivateKey

	chain    *ledger.Chain
	recency  *ledger.RecencyCache
	peers    *transport.PeerAdapter
	resolver ledger.KeyResolver
	clock    transport.Clock

	mu    sync.Mutex
	state lockState

	welcomeGrant float64
}

// SetWelcomeGrant configures the amount minted to a newly joined
// participant via seedWelcomeGrant. Zero (the default) disables it.
func (a *Authority) SetWelcomeGrant(amount float64) {
	a.welcomeGrant = amount
}

// NewAuthority constructs an Authority for name, participating in the given
// fixed authority peer list (which must include name itself).
func NewAuthority(name string, authorities []string, priv crypto.PrivateKey, chain *ledger.Chain, peers *transport.PeerAdapter, resolver ledger.KeyResolver, clock transport.Clock) *Authority {
	return &Authority{
		name:        name,
		authorities: authorities,
		priv:        priv,
		chain:       chain,
		recency:     ledger.NewRecencyCache(),
		peers:       peers,
		resolver:    resolver,
		clock:       clock,
		state:       newLockState(),
	}
}

// tryAcquire sets blocker = self if currently unlocked and reports whether
// it succeeded.
func (a *Authority) tryAcquire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.blocker != none {
		return false
	}
	a.state.blocker = a.name
	a.state.blockerSetTime = a.clock.Now()
	return true
}

// release clears the lock and any competing-blocker bookkeeping.
func (a *Authority) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.blocker = none
	a.state.competingBlockers = nil
}

func (a *Authority) recordCompetingBlocker(blocker string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.competingBlockers = append(a.state.competingBlockers, blocker)
}

func (a *Authority) competingBlockersSnapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.state.competingBlockers))
	copy(out, a.state.competingBlockers)
	return out
}

func (a *Authority) currentBlocker() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.blocker
}

// VerifyTransaction is the authority-side 2PC driver entered at
// /verify_transaction. It returns the human-readable result message the
// source protocol expects callers to relay verbatim.
func (a *Authority) VerifyTransaction(ctx context.Context, tx ledger.Transaction) (string, error) {
	if !a.tryAcquire() {
		return "try again", nil
	}

	round := uuid.NewString()
	log.Printf("[protocol] round %s: %s begins verify_transaction for tx index %d", round, a.name, tx.Index)

	if !tx.IsDeposit() {
		if balance := a.chain.Balance(tx.Sender); balance < tx.Amount {
			a.release()
			return "Insufficient balance", nil
		}
	}

	if err := a.chain.VerifyTransaction(ctx, tx, a.resolver); err != nil {
		log.Printf("[protocol] round %s: verify failed: %v", round, err)
		a.release()
		return "transaction is not valid", nil
	}

	sig, err := crypto.Sign(a.priv, []byte(tx.CurrentHash))
	if err != nil {
		a.release()
		return "", fmt.Errorf("protocol: sign transaction: %w", err)
	}
	tx.AuthoritySignature = sig
	tx.Timestamp = a.clock.Now().Format(time.RFC3339)

	approved, required, syncNeeded := a.runPreparePhase(ctx, round, tx)

	if syncNeeded {
		log.Printf("[protocol] round %s: a peer reports a different chain length; synchronization needed", round)
	}

	if approved >= required {
		a.broadcastCommit(ctx, round, tx)
		return "transaction accepted", nil
	}

	a.initiateLockRelease(ctx, round)
	return "retry transaction", nil
}

// runPreparePhase POSTs tx to every authority's /prepare_transaction and
// tallies approvals against a quorum that shrinks by one per unreachable
// peer. mu is never held during these outbound calls.
func (a *Authority) runPreparePhase(ctx context.Context, round string, tx ledger.Transaction) (approved, required int, syncNeeded bool) {
	required = len(a.authorities) - 1
	req := PrepareRequest{Transaction: tx, ContainerName: a.name}

	for _, peer := range a.authorities {
		data, status, err := a.peers.Post(ctx, peer, "prepare_transaction", req)
		if err != nil {
			log.Printf("[protocol] round %s: prepare to %s unreachable: %v", round, peer, err)
			required--
			continue
		}
		if status < 200 || status >= 300 {
			log.Printf("[protocol] round %s: prepare to %s returned status %d", round, peer, status)
			required--
			continue
		}

		reply, err := decodePrepareReply(data)
		if err != nil {
			log.Printf("[protocol] round %s: prepare reply from %s unparseable: %v", round, peer, err)
			required--
			continue
		}

		switch reply.Kind {
		case PrepareAccepted:
			approved++
		case PrepareNeedSync:
			syncNeeded = true
		case PrepareBusy:
			a.recordCompetingBlocker(reply.Blocker)
		}

		if approved >= required {
			break
		}
		if syncNeeded {
			break
		}
	}
	return approved, required, syncNeeded
}

func decodePrepareReply(data []byte) (PrepareReply, error) {
	var wire prepareWireReply
	if err := json.Unmarshal(data, &wire); err != nil {
		return PrepareReply{}, err
	}
	switch {
	case wire.Status == "accepted":
		return PrepareReply{Kind: PrepareAccepted}, nil
	case wire.Message == msgNeedSync:
		return PrepareReply{Kind: PrepareNeedSync, CurrentIndex: wire.CurrentIndex}, nil
	case wire.Message == msgBusy:
		return PrepareReply{Kind: PrepareBusy, Blocker: wire.Blocker}, nil
	default:
		return PrepareReply{}, fmt.Errorf("protocol: unrecognized prepare reply %q/%q", wire.Status, wire.Message)
	}
}

// broadcastCommit fans the fully-signed transaction out to /add_to_chain on
// every authority. Fire-and-forget per peer; idempotence is handled by each
// peer's recency cache.
func (a *Authority) broadcastCommit(ctx context.Context, round string, tx ledger.Transaction) {
	for _, peer := range a.authorities {
		if _, _, err := a.peers.Post(ctx, peer, "add_to_chain", tx); err != nil {
			log.Printf("[protocol] round %s: commit broadcast to %s failed: %v", round, peer, err)
		}
	}
}

// HandlePrepareTransaction implements /prepare_transaction.
func (a *Authority) HandlePrepareTransaction(req PrepareRequest) PrepareReply {
	a.mu.Lock()
	if a.state.blocker != none {
		blocker := a.state.blocker
		a.mu.Unlock()
		return PrepareReply{Kind: PrepareBusy, Blocker: blocker}
	}

	currentLen := int64(a.chain.Len())
	if req.Index != currentLen {
		a.mu.Unlock()
		return PrepareReply{Kind: PrepareNeedSync, CurrentIndex: currentLen}
	}

	a.state.blocker = a.name
	a.state.blockerSetTime = a.clock.Now()
	a.mu.Unlock()
	return PrepareReply{Kind: PrepareAccepted}
}

// HandleAddToChain implements /add_to_chain. It is idempotent via the
// recency cache and forwards the commit to every connected participant.
func (a *Authority) HandleAddToChain(ctx context.Context, tx ledger.Transaction) (string, error) {
	if a.recency.SeenBefore(tx.CurrentHash) {
		return "transaction was already processed", nil
	}

	if err := a.chain.VerifyAuthorityTransaction(ctx, tx, a.authorities, a.resolver); err != nil {
		a.release()
		return "transaction not added", nil
	}

	if err := a.chain.Append(tx); err != nil {
		a.release()
		return "transaction not added", nil
	}
	a.release()

	a.forwardToParticipants(ctx, tx)
	return "transaction added", nil
}

func (a *Authority) forwardToParticipants(ctx context.Context, tx ledger.Transaction) {
	a.mu.Lock()
	nodes := make([]string, len(a.state.connectedNodes))
	copy(nodes, a.state.connectedNodes)
	a.mu.Unlock()

	var stale []string
	for _, node := range nodes {
		data, status, err := a.peers.Post(ctx, node, "add_to_chain", tx)
		if err != nil || status < 200 || status >= 300 || !acknowledgesCommit(data) {
			stale = append(stale, node)
			continue
		}
	}
	if len(stale) > 0 {
		a.removeConnectedNodes(stale)
	}
}

func acknowledgesCommit(data []byte) bool {
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return false
	}
	return resp.Message == "transaction added"
}

func (a *Authority) removeConnectedNodes(stale []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	staleSet := make(map[string]bool, len(stale))
	for _, s := range stale {
		staleSet[s] = true
	}
	kept := a.state.connectedNodes[:0]
	for _, n := range a.state.connectedNodes {
		if !staleSet[n] {
			kept = append(kept, n)
		}
	}
	a.state.connectedNodes = kept
}

// HandleUnlockTransaction implements /unlock_transaction.
func (a *Authority) HandleUnlockTransaction() {
	a.release()
}

// initiateLockRelease runs the deterministic tie-break election: the
// authority broadcasts an unlock to every authority only when its own name
// is the lexicographically smallest entry of its competing-blocker list.
// Its own name is normally in that list, since the driver's prepare to
// itself reports itself busy.
func (a *Authority) initiateLockRelease(ctx context.Context, round string) {
	blockers := a.competingBlockersSnapshot()
	if len(blockers) == 0 {
		return
	}
	sorted := append([]string(nil), blockers...)
	sort.Strings(sorted)
	if sorted[0] != a.name {
		return
	}

	log.Printf("[protocol] round %s: %s elected to broadcast unlock", round, a.name)
	for _, peer := range a.authorities {
		if _, _, err := a.peers.Post(ctx, peer, "unlock_transaction", struct{}{}); err != nil {
			log.Printf("[protocol] round %s: unlock broadcast to %s failed: %v", round, peer, err)
		}
	}
}

// HandleJoin implements /join: records the participant and pushes the
// current chain to it.
func (a *Authority) HandleJoin(ctx context.Context, name string) error {
	a.mu.Lock()
	known := false
	for _, n := range a.state.connectedNodes {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		a.state.connectedNodes = append(a.state.connectedNodes, name)
	}
	a.mu.Unlock()

	if !known && a.welcomeGrant > 0 {
		if err := a.seedWelcomeGrant(name); err != nil {
			log.Printf("[protocol] welcome grant for %s failed: %v", name, err)
		}
	}

	txs := a.chain.All()
	_, _, err := a.peers.Post(ctx, name, "synchronize", struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}{Transactions: txs})
	if err != nil {
		return fmt.Errorf("protocol: push chain to %s: %w", name, err)
	}
	return nil
}

// HandleSynchronize implements /synchronize: adopt candidate if it is
// strictly longer and passes VerifyWholeChain.
func (a *Authority) HandleSynchronize(ctx context.Context, candidate []ledger.Transaction) (string, error) {
	swapped, err := a.chain.Synchronize(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "nothing to synchronize", nil
	}
	return "synchronized", nil
}

// seedWelcomeGrant appends a system → name transaction directly to the
// chain, bypassing the 2PC pipeline entirely. "system" has no keypair of
// its own, so the transaction carries this authority's signature as the
// authority_signature rather than a sender_signature — VerifyWholeChain
// treats ledger.SystemSender transactions as authority-vouched mints.
func (a *Authority) seedWelcomeGrant(name string) error {
	tip, err := a.chain.Tip()
	previousHash := ""
	if err == nil {
		previousHash = tip.CurrentHash
	}

	tx := ledger.Transaction{
		Index:        int64(a.chain.Len()),
		Sender:       ledger.SystemSender,
		Recipient:    name,
		Amount:       a.welcomeGrant,
		PreviousHash: previousHash,
		Timestamp:    a.clock.Now().Format(time.RFC3339),
	}
	tx.CurrentHash = tx.Hash()

	sig, err := crypto.Sign(a.priv, []byte(tx.CurrentHash))
	if err != nil {
		return fmt.Errorf("protocol: sign welcome grant: %w", err)
	}
	tx.AuthoritySignature = sig

	return a.chain.Append(tx)
}

// HandleAuthDepositMoney implements /auth_deposit_money: an authority
// constructs an unsigned self-transfer deposit transaction for name, to be
// completed by the participant's SignDeposit and resubmitted to
// /verify_transaction.
func (a *Authority) HandleAuthDepositMoney(name string, amount float64) (ledger.Transaction, error) {
	tip, err := a.chain.Tip()
	previousHash := ""
	if err == nil {
		previousHash = tip.CurrentHash
	}

	tx := ledger.Transaction{
		Index:        int64(a.chain.Len()),
		Sender:       name,
		Recipient:    name,
		Amount:       amount,
		PreviousHash: previousHash,
	}
	tx.CurrentHash = tx.Hash()
	return tx, nil
}

// Name returns the authority's own node name.
func (a *Authority) Name() string { return a.name }

// Chain exposes the underlying ledger for read-only HTTP handlers.
func (a *Authority) Chain() *ledger.Chain { return a.chain }

// PublicKeyPEM returns the PEM encoding of this authority's public key.
func (a *Authority) PublicKeyPEM() []byte { return a.priv.Public().PEM() }
