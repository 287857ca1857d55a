package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckQuota(t *testing.T) {
	cases := []struct {
		name   string
		quota  Quota
		epoch  uint64
		prev   QuotaNow
		req    uint32
		volume uint64
		want   QuotaNow
		err    error
	}{
		{
			name:  "within limits",
			quota: Quota{MaxRequestsPerEpoch: 3, MaxVolumePerEpoch: 1_000},
			epoch: 5,
			prev:  QuotaNow{ReqCount: 1, VolumeUsed: 400, EpochID: 5},
			req:   1, volume: 600,
			want: QuotaNow{ReqCount: 2, VolumeUsed: 1_000, EpochID: 5},
		},
		{
			name:  "request cap",
			quota: Quota{MaxRequestsPerEpoch: 2},
			epoch: 5,
			prev:  QuotaNow{ReqCount: 2, EpochID: 5},
			req:   1,
			err:   ErrQuotaRequestsExceeded,
		},
		{
			name:  "volume cap",
			quota: Quota{MaxVolumePerEpoch: 1_000},
			epoch: 5,
			prev:  QuotaNow{ReqCount: 1, VolumeUsed: 999, EpochID: 5},
			req:   1, volume: 2,
			err: ErrQuotaVolumeExceeded,
		},
		{
			name:  "new epoch resets counters",
			quota: Quota{MaxRequestsPerEpoch: 1, MaxVolumePerEpoch: 10},
			epoch: 6,
			prev:  QuotaNow{ReqCount: 1, VolumeUsed: 10, EpochID: 5},
			req:   1, volume: 10,
			want: QuotaNow{ReqCount: 1, VolumeUsed: 10, EpochID: 6},
		},
		{
			name:   "unlimited quota still detects overflow",
			epoch:  1,
			prev:   QuotaNow{VolumeUsed: math.MaxUint64 - 1, EpochID: 1},
			req:    1,
			volume: 2,
			err:    ErrQuotaCounterOverflow,
		},
		{
			name:  "request counter overflow",
			epoch: 1,
			prev:  QuotaNow{ReqCount: math.MaxUint32, EpochID: 1},
			req:   1,
			err:   ErrQuotaCounterOverflow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CheckQuota(tc.quota, tc.epoch, tc.prev, tc.req, tc.volume)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Equal(t, tc.prev, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestQuotaEpochDefaultsToOneMinute(t *testing.T) {
	require.Equal(t, uint64(2), Quota{}.Epoch(150))
	require.Equal(t, uint64(15), Quota{EpochSeconds: 10}.Epoch(150))
	require.Equal(t, uint64(0), Quota{}.Epoch(-5))
}

func TestQuotaTrackerChargesPerCaller(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 2, MaxVolumePerEpoch: 500, EpochSeconds: 60})
	manager := [20]byte{0x01}
	relayer := [20]byte{0x02}
	now := int64(6_000)

	require.NoError(t, tracker.Charge(manager, now, 300))
	require.ErrorIs(t, tracker.Charge(manager, now, 300), ErrQuotaVolumeExceeded)
	require.NoError(t, tracker.Charge(manager, now, 200))
	require.ErrorIs(t, tracker.Charge(manager, now, 0), ErrQuotaRequestsExceeded)

	used := tracker.Usage(manager, now)
	require.Equal(t, uint32(2), used.ReqCount)
	require.Equal(t, uint64(500), used.VolumeUsed)

	require.NoError(t, tracker.Charge(relayer, now, 500))
	require.Equal(t, QuotaNow{ReqCount: 1, VolumeUsed: 500, EpochID: 100}, tracker.Usage(relayer, now))
}

func TestQuotaTrackerDropsIdleCallers(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 60})
	idle := [20]byte{0x0A}
	active := [20]byte{0x0B}

	require.NoError(t, tracker.Charge(idle, 60, 0))
	require.Equal(t, 1, tracker.Tracked())

	require.NoError(t, tracker.Charge(active, 120, 0))
	require.Equal(t, 1, tracker.Tracked())
	require.Equal(t, QuotaNow{EpochID: 2}, tracker.Usage(idle, 120))

	require.NoError(t, tracker.Charge(idle, 120, 0))
	require.ErrorIs(t, tracker.Charge(active, 179, 0), ErrQuotaRequestsExceeded)
}

func TestNilQuotaTrackerAllowsEverything(t *testing.T) {
	var tracker *QuotaTracker
	require.NoError(t, tracker.Charge([20]byte{0x01}, 1, math.MaxUint64))
}
