package protocol

import (
	"time"
)

// none is the sentinel blocker value meaning "unlocked".
const none = ""

// lockState holds the single per-authority mutable state: blocker,
// blocker_set_time, the set of competing blockers seen during a failed
// round, and the set of connected participant nodes. It is owned by
// Authority and guarded by Authority.mu; there are no package-level vars.
type lockState struct {
	blocker           string
	blockerSetTime    time.Time
	competingBlockers []string
	connectedNodes    []string
}

func newLockState() lockState {
	return lockState{blocker: none}
}
