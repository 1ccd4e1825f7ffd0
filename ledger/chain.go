package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChainEmpty is returned by operations that require at least a genesis
// transaction to already exist.
var ErrChainEmpty = errors.New("ledger: chain has no genesis transaction")

// GenesisName is the sender and recipient of the chain's mandatory first
// transaction, matching the source's create_genesis_transaction.
const GenesisName = "Genesis"

// Chain is the append-only, in-memory transaction log shared by every node.
// It never persists across restarts (the corrupted or malicious
// post-restart peer is expected to synchronize from a live quorum).
type Chain struct {
	mu  sync.RWMutex
	txs []Transaction

	resolver    KeyResolver
	authorities []string
}

// SetVerification supplies the key resolver and fixed authority list that
// VerifyWholeChain (via Synchronize and (*Chain).VerifyWholeChain) uses to
// check signatures. Must be called before any peer-supplied chain is
// synchronized; an unset resolver degrades VerifyWholeChain to shape-only
// checks, which is only acceptable for isolated chain-shape tests.
func (c *Chain) SetVerification(resolver KeyResolver, authorities []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = resolver
	c.authorities = authorities
}

// NewChain returns an empty chain. Call Genesis before any other operation.
func NewChain() *Chain {
	return &Chain{}
}

// Genesis seeds the chain with its mandatory first transaction: index 0, no
// previous hash, sender and recipient both GenesisName. It is a no-op if
// the chain already has a genesis transaction.
func (c *Chain) Genesis() Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.txs) > 0 {
		return c.txs[0]
	}
	tx := Transaction{
		Index:     0,
		Sender:    GenesisName,
		Recipient: GenesisName,
		Amount:    0,
	}
	tx.CurrentHash = tx.Hash()
	c.txs = append(c.txs, tx)
	return tx
}

// Len returns the number of transactions on the chain, including genesis.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.txs)
}

// Tip returns the last committed transaction.
func (c *Chain) Tip() (Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.txs) == 0 {
		return Transaction{}, ErrChainEmpty
	}
	return c.txs[len(c.txs)-1], nil
}

// Append adds tx to the chain. Callers are expected to have already run
// VerifyTransaction; Append itself only re-checks index and linkage, since
// those are cheap and catch races between verification and commit.
func (c *Chain) Append(tx Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.txs) == 0 {
		return ErrChainEmpty
	}
	tip := c.txs[len(c.txs)-1]
	if tx.Index != tip.Index+1 {
		return fmt.Errorf("ledger: tx index %d does not follow tip %d", tx.Index, tip.Index)
	}
	if tx.PreviousHash != tip.CurrentHash {
		return fmt.Errorf("ledger: previous_hash mismatch: got %s want %s", tx.PreviousHash, tip.CurrentHash)
	}
	c.txs = append(c.txs, tx)
	return nil
}

// All returns a copy of every committed transaction, oldest first.
func (c *Chain) All() []Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Transaction, len(c.txs))
	copy(out, c.txs)
	return out
}

// Balance computes name's balance by walking the whole chain. A deposit
// (sender == recipient == name) credits amount exactly once; it is never
// treated as a zero-sum transfer, since the naive sender-debit/recipient-credit
// pass would otherwise cancel a self-mint back to zero.
func (c *Chain) Balance(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var balance float64
	for _, tx := range c.txs {
		if tx.IsDeposit() {
			if tx.Recipient == name {
				balance += tx.Amount
			}
			continue
		}
		if tx.Sender == name {
			balance -= tx.Amount
		}
		if tx.Recipient == name {
			balance += tx.Amount
		}
	}
	return balance
}

// VerifyWholeChain re-derives and checks every per-index invariant of every
// transaction in txs, in order: hash, index/previous_hash linkage, and (for
// i>0) sender/recipient signatures plus at least one authority signature —
// the same checks VerifyAuthorityTransaction applies at commit time, so a
// synced chain cannot smuggle in a well-linked but forged or unsigned
// transaction. System mints (IsSystemMint) carry no sender/recipient
// signature and are checked for an authority signature only. A nil resolver
// degrades this to shape-only checks (hash/linkage), which is only
// appropriate for tests that have no key material to verify against.
func VerifyWholeChain(ctx context.Context, txs []Transaction, authorities []string, resolver KeyResolver) error {
	if len(txs) == 0 {
		return ErrChainEmpty
	}
	for i, tx := range txs {
		if tx.Index != int64(i) {
			return fmt.Errorf("ledger: tx at position %d has index %d", i, tx.Index)
		}
		if tx.Hash() != tx.CurrentHash {
			return fmt.Errorf("ledger: tx %d current_hash does not match its contents", tx.Index)
		}
		if i == 0 {
			continue
		}
		if tx.PreviousHash != txs[i-1].CurrentHash {
			return fmt.Errorf("ledger: tx %d previous_hash does not chain to tx %d", tx.Index, i-1)
		}
		if resolver == nil {
			continue
		}
		if !tx.IsSystemMint() {
			if err := verifySenderRecipientSignatures(ctx, tx, resolver); err != nil {
				return fmt.Errorf("ledger: tx %d: %w", tx.Index, err)
			}
		}
		if err := verifyAuthoritySignature(ctx, tx, authorities, resolver); err != nil {
			return fmt.Errorf("ledger: tx %d: %w", tx.Index, err)
		}
	}
	return nil
}

// VerifyWholeChain checks c's own contents against its configured resolver
// and authority list (see SetVerification).
func (c *Chain) VerifyWholeChain(ctx context.Context) error {
	c.mu.RLock()
	txs := make([]Transaction, len(c.txs))
	copy(txs, c.txs)
	authorities, resolver := c.authorities, c.resolver
	c.mu.RUnlock()
	return VerifyWholeChain(ctx, txs, authorities, resolver)
}

// Synchronize replaces the chain's contents with candidate if candidate is
// both longer than the current chain and passes VerifyWholeChain against
// c's configured resolver and authority list. It reports whether the swap
// happened.
func (c *Chain) Synchronize(ctx context.Context, candidate []Transaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) <= len(c.txs) {
		return false, nil
	}
	if err := VerifyWholeChain(ctx, candidate, c.authorities, c.resolver); err != nil {
		return false, fmt.Errorf("ledger: candidate chain rejected: %w", err)
	}
	out := make([]Transaction, len(candidate))
	copy(out, candidate)
	c.txs = out
	return true, nil
}
