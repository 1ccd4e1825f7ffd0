package ledger

import (
	"context"
	"fmt"

	"github.com/jonaspfi/ledgernode/crypto"
)

// KeyResolver fetches a node's public key PEM. Chain depends only on this
// narrow shape rather than importing the transport package, so tests can
// supply an in-memory resolver without standing up HTTP.
type KeyResolver interface {
	PublicKey(ctx context.Context, name string) ([]byte, error)
}

// VerifyTransaction checks tx against tip: recomputed hash, index and
// previous_hash linkage, and sender/recipient signatures over current_hash
// (fetched via resolver). Deposits use the same key for both checks.
// System mints (SystemSender) carry no sender/recipient signature and are
// accepted here unchecked; callers that need the authority-vouch guarantee
// must use VerifyAuthorityTransaction.
func VerifyTransaction(ctx context.Context, tx Transaction, tip Transaction, resolver KeyResolver) error {
	if tx.Hash() != tx.CurrentHash {
		return fmt.Errorf("ledger: transaction is not valid: hash mismatch")
	}
	if tx.PreviousHash != tip.CurrentHash {
		return fmt.Errorf("ledger: transaction is not valid: previous_hash mismatch")
	}
	if tx.Index != tip.Index+1 {
		return fmt.Errorf("ledger: transaction is not valid: index mismatch")
	}
	if tx.IsSystemMint() {
		return nil
	}
	return verifySenderRecipientSignatures(ctx, tx, resolver)
}

func verifySenderRecipientSignatures(ctx context.Context, tx Transaction, resolver KeyResolver) error {
	senderPEM, err := resolver.PublicKey(ctx, tx.Sender)
	if err != nil {
		return fmt.Errorf("ledger: resolve sender key: %w", err)
	}
	if !crypto.Verify(senderPEM, tx.SenderSignature, []byte(tx.CurrentHash)) {
		return fmt.Errorf("ledger: transaction is not valid: sender signature invalid")
	}

	recipientPEM := senderPEM
	if !tx.IsDeposit() {
		recipientPEM, err = resolver.PublicKey(ctx, tx.Recipient)
		if err != nil {
			return fmt.Errorf("ledger: resolve recipient key: %w", err)
		}
	}
	if !crypto.Verify(recipientPEM, tx.RecipientSignature, []byte(tx.CurrentHash)) {
		return fmt.Errorf("ledger: transaction is not valid: recipient signature invalid")
	}
	return nil
}

// verifyAuthoritySignature checks that at least one of the listed
// authorities' public keys verifies tx.AuthoritySignature.
func verifyAuthoritySignature(ctx context.Context, tx Transaction, authorities []string, resolver KeyResolver) error {
	if tx.AuthoritySignature == "" {
		return fmt.Errorf("ledger: transaction is not valid: missing authority signature")
	}
	for _, authority := range authorities {
		pem, err := resolver.PublicKey(ctx, authority)
		if err != nil {
			continue
		}
		if crypto.Verify(pem, tx.AuthoritySignature, []byte(tx.CurrentHash)) {
			return nil
		}
	}
	return fmt.Errorf("ledger: transaction is not valid: no known authority signature verifies")
}

// VerifyAuthorityTransaction runs VerifyTransaction's checks plus: at least
// one of the listed authorities' public keys verifies tx.AuthoritySignature.
func VerifyAuthorityTransaction(ctx context.Context, tx Transaction, tip Transaction, authorities []string, resolver KeyResolver) error {
	if err := VerifyTransaction(ctx, tx, tip, resolver); err != nil {
		return err
	}
	return verifyAuthoritySignature(ctx, tx, authorities, resolver)
}

// VerifyTransaction checks tx against the chain's current tip. Convenience
// wrapper over the package-level VerifyTransaction for callers that already
// hold a *Chain.
func (c *Chain) VerifyTransaction(ctx context.Context, tx Transaction, resolver KeyResolver) error {
	tip, err := c.Tip()
	if err != nil {
		return err
	}
	return VerifyTransaction(ctx, tx, tip, resolver)
}

// VerifyAuthorityTransaction checks tx against the chain's current tip plus
// the authority-signature requirement. Convenience wrapper over the
// package-level VerifyAuthorityTransaction.
func (c *Chain) VerifyAuthorityTransaction(ctx context.Context, tx Transaction, authorities []string, resolver KeyResolver) error {
	tip, err := c.Tip()
	if err != nil {
		return err
	}
	return VerifyAuthorityTransaction(ctx, tx, tip, authorities, resolver)
}
