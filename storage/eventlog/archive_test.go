package eventlog

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"brokerfund/core/events"
)

type untyped struct{}

func (untyped) EventType() string { return "untyped" }

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })
	archive.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return archive
}

func TestArchiveFiltersByAccount(t *testing.T) {
	archive := openTestArchive(t)
	ctx := context.Background()

	archive.Emit(events.BrokerAccountOpened{AccountID: 1, Owner: [20]byte{0x01}})
	archive.Emit(events.BrokerAccountOpened{AccountID: 2, Owner: [20]byte{0x02}})
	archive.Emit(events.BrokerDeposit{AccountID: 1, AmountIn: big.NewInt(1000), SharesOut: big.NewInt(1000)})
	archive.Emit(events.ManagementFeeAccrued{Shares: big.NewInt(5)})
	archive.Emit(untyped{})

	records, err := archive.ByAccount(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, events.TypeBrokerDeposit, records[0].Type)
	require.Equal(t, "1000", records[0].Attributes["amountIn"])
	require.Equal(t, events.TypeBrokerAccountOpened, records[1].Type)
	require.Equal(t, uint64(1), records[1].AccountID)
	require.Equal(t, int64(1_700_000_000), records[1].RecordedAt.Unix())

	recent, err := archive.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	require.Equal(t, events.TypeManagementFeeAccrued, recent[0].Type)
	require.Zero(t, recent[0].AccountID)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ", nil)
	require.ErrorIs(t, err, ErrPathRequired)
}
