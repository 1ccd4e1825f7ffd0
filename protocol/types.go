// Package protocol implements the authority's 2PC commit driver: the
// blocker/lock state machine, the prepare-phase quorum, commit broadcast,
// the lock-release election, and the heartbeat watchdog. It is the
// cooperative consensus layer sitting on top of ledger.Chain.
package protocol

import (
	"encoding/json"

	"github.com/jonaspfi/ledgernode/ledger"
)

// PrepareRequest is what a driving authority POSTs to every authority's
// /prepare_transaction, including its own name.
type PrepareRequest struct {
	ledger.Transaction
	ContainerName string `json:"container_name"`
}

// PrepareReplyKind tags the three possible shapes a prepare reply can take,
// turning a duck-typed JSON payload into an exhaustive switch.
type PrepareReplyKind int

const (
	// PrepareAccepted means the peer acquired its own lock for this round.
	PrepareAccepted PrepareReplyKind = iota
	// PrepareNeedSync means the peer's chain is a different length and the
	// driver should not count this peer toward quorum.
	PrepareNeedSync
	// PrepareBusy means the peer is already locked by another round; its
	// reported blocker name is recorded as a competing blocker.
	PrepareBusy
)

// PrepareReply is the parsed, tagged result of a single /prepare_transaction
// call.
type PrepareReply struct {
	Kind         PrepareReplyKind
	Blocker      string // set when Kind == PrepareBusy
	CurrentIndex int64  // set when Kind == PrepareNeedSync
}

// wire shapes exchanged over HTTP; kept unexported since callers only see
// the tagged PrepareReply above.

type prepareWireReply struct {
	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	Blocker      string `json:"blocker,omitempty"`
	CurrentIndex int64  `json:"current_index,omitempty"`
}

const (
	msgNeedSync = "We need to synchronize..."
	msgBusy     = "Sorry, transaction is already in process."
)

// MarshalJSON renders a PrepareReply in the wire shape HandlePrepareTransaction's
// HTTP handler writes back and decodePrepareReply expects on the driver side.
func (r PrepareReply) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case PrepareAccepted:
		return json.Marshal(prepareWireReply{Status: "accepted"})
	case PrepareNeedSync:
		return json.Marshal(prepareWireReply{Message: msgNeedSync, CurrentIndex: r.CurrentIndex})
	case PrepareBusy:
		return json.Marshal(prepareWireReply{Message: msgBusy, Blocker: r.Blocker})
	default:
		return json.Marshal(prepareWireReply{})
	}
}
