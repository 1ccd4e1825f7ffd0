package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonaspfi/ledgernode/transport"
)

func TestSystemClockReturnsUTC(t *testing.T) {
	now := transport.SystemClock().Now()
	require.Equal(t, time.UTC, now.Location())
}
