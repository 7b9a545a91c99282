package ledgertest

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"royaltysync/ledger"
)

func TestPauseRejectsRedundantToggles(t *testing.T) {
	owner := common.HexToAddress("0x0000000000000000000000000000000000000a01")
	l := New(owner)
	gw := l.Gateway(owner)
	ctx := context.Background()

	require.ErrorIs(t, gw.Unpause(ctx), ledger.ErrWriteRejected)
	require.NoError(t, gw.Pause(ctx))
	require.ErrorIs(t, gw.Pause(ctx), ledger.ErrWriteRejected)
	require.True(t, l.Paused())
	require.NoError(t, gw.Unpause(ctx))
	require.False(t, l.Paused())
}
