// Package ledger implements the chain data structure and its cryptographic
// integrity rules: the canonical transaction hash (the Hasher), the
// append-only Chain with genesis/balance/verification/synchronization, and
// the bounded recency cache used to dedup commit broadcasts.
package ledger

import (
	"strconv"
	"strings"

	"github.com/jonaspfi/ledgernode/crypto"
)

// Transaction is the atomic unit of the chain.
type Transaction struct {
	Index     int64  `json:"index"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    float64 `json:"amount"`
	// Expiration, PreviousHash, CurrentHash are pointers-as-strings in the
	// wire sense: empty string means "absent". An absent Expiration or
	// PreviousHash renders as the literal "None" in the canonical hash
	// input, matching the source's handling of Python None; CurrentHash is
	// not part of the hash input.
	Expiration          string `json:"expiration"`
	PreviousHash        string `json:"previous_hash"`
	CurrentHash         string `json:"current_hash"`
	SenderSignature     string `json:"sender_signature"`
	RecipientSignature  string `json:"recipient_signature"`
	AuthoritySignature  string `json:"authority_signature"`
	Timestamp           string `json:"timestamp"`
}

// SystemSender is the sender identity used for authority-vouched mints that
// bypass the 2PC pipeline (the welcome grant on /join). It never resolves to
// a real keypair: such transactions carry only an authority_signature.
const SystemSender = "system"

// IsDeposit reports whether tx is a self-transfer (mint), which bypasses
// the sender-balance check. A deposit still needs valid signatures and
// still goes through the prepare/commit quorum.
func (tx Transaction) IsDeposit() bool {
	return tx.Sender == tx.Recipient
}

// IsSystemMint reports whether tx is an authority-vouched mint from
// SystemSender, which carries no sender/recipient signature to verify.
func (tx Transaction) IsSystemMint() bool {
	return tx.Sender == SystemSender
}

// none is the literal rendering of an absent canonical-hash field, chosen to
// match the source's Python `str(None)` behavior exactly.
const none = "None"

func renderField(s string) string {
	if s == "" {
		return none
	}
	return s
}

// Hash computes the canonical SHA-256 hex digest of tx (the Hasher, C2).
// The hash input is the concatenation, in this exact order, of the string
// forms of index, sender, recipient, amount, previous_hash, expiration —
// deliberately excluding signatures and timestamp so signing parties can
// sign before those fields are finalized.
func (tx Transaction) Hash() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(tx.Index, 10))
	b.WriteString(tx.Sender)
	b.WriteString(tx.Recipient)
	b.WriteString(formatAmount(tx.Amount))
	b.WriteString(renderField(tx.PreviousHash))
	b.WriteString(renderField(tx.Expiration))
	return crypto.Hash([]byte(b.String()))
}

// formatAmount mirrors Python's str(float) rendering closely enough for hash
// stability: integral amounts render with a trailing ".0", matching
// str(100.0) == "100.0" in the source.
func formatAmount(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
