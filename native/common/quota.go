package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("common: settlement request quota exceeded")
	ErrQuotaVolumeExceeded   = errors.New("common: settlement volume quota exceeded")
	ErrQuotaCounterOverflow  = errors.New("common: quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	ReqCount   uint32
	VolumeUsed uint64
	EpochID    uint64
}

// Quota defines the limits enforced per caller and epoch. Zero disables a
// limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxVolumePerEpoch   uint64
	EpochSeconds        uint32
}

// Epoch maps a UNIX timestamp onto the quota epoch it belongs to.
func (q Quota) Epoch(now int64) uint64 {
	if now <= 0 {
		return 0
	}
	if q.EpochSeconds == 0 {
		return uint64(now) / 60
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and volume fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addVolume uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addVolume > 0 {
		if next.VolumeUsed > math.MaxUint64-addVolume {
			return prev, ErrQuotaCounterOverflow
		}
		next.VolumeUsed += addVolume
	}
	if q.MaxVolumePerEpoch > 0 && next.VolumeUsed > q.MaxVolumePerEpoch {
		return prev, ErrQuotaVolumeExceeded
	}

	return next, nil
}

// QuotaTracker keeps per-caller settlement quota counters in memory.
// Counters of callers idle since an earlier epoch are dropped when a new
// epoch starts.
type QuotaTracker struct {
	quota Quota
	mu    sync.Mutex
	epoch uint64
	usage map[[20]byte]QuotaNow
}

// NewQuotaTracker returns a tracker enforcing q.
func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[[20]byte]QuotaNow)}
}

// Charge records one request and volume for caller at now, rejecting it
// without effect when a limit would be exceeded.
func (t *QuotaTracker) Charge(caller [20]byte, now int64, volume uint64) error {
	if t == nil {
		return nil
	}
	epoch := t.quota.Epoch(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch > t.epoch {
		for addr, used := range t.usage {
			if used.EpochID < epoch {
				delete(t.usage, addr)
			}
		}
		t.epoch = epoch
	}
	next, err := CheckQuota(t.quota, epoch, t.usage[caller], 1, volume)
	if err != nil {
		return err
	}
	t.usage[caller] = next
	return nil
}

// Usage returns the counters charged to caller in the epoch containing now.
func (t *QuotaTracker) Usage(caller [20]byte, now int64) QuotaNow {
	epoch := t.quota.Epoch(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	used, ok := t.usage[caller]
	if !ok || used.EpochID != epoch {
		return QuotaNow{EpochID: epoch}
	}
	return used
}

// Tracked reports how many callers currently hold counters.
func (t *QuotaTracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.usage)
}
