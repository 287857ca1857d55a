package common

import (
	"errors"
	"sync"
	"testing"
)

func TestGuardHonoursPauses(t *testing.T) {
	if err := Guard(nil, "brokerage"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	pauses := &StaticPauses{}
	if err := Guard(pauses, "brokerage"); err != nil {
		t.Fatalf("unpaused module blocked: %v", err)
	}
	pauses.SetPaused("brokerage", true)
	if err := Guard(pauses, "brokerage"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, "vault"); err != nil {
		t.Fatalf("pause leaked to another module: %v", err)
	}
}

func TestReentrancyGuardRejectsNestedEntry(t *testing.T) {
	var guard ReentrancyGuard
	release, err := guard.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if !guard.Active() {
		t.Fatalf("expected guard to be active")
	}
	if _, err := guard.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	release()
	if guard.Active() {
		t.Fatalf("expected guard to be cleared")
	}
	again, err := guard.Enter()
	if err != nil {
		t.Fatalf("enter after release: %v", err)
	}
	again()
}

func TestReentrancyGuardScopedPerInstance(t *testing.T) {
	var first, second ReentrancyGuard
	release, err := first.Enter()
	if err != nil {
		t.Fatalf("enter first: %v", err)
	}
	defer release()
	releaseSecond, err := second.Enter()
	if err != nil {
		t.Fatalf("distinct guard rejected: %v", err)
	}
	releaseSecond()
}

func TestReentrancyGuardNeverAdmitsTwoHolders(t *testing.T) {
	var (
		guard    ReentrancyGuard
		wg       sync.WaitGroup
		mu       sync.Mutex
		inside   int
		maxSeen  int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, err := guard.Enter()
			if err != nil {
				if !errors.Is(err, ErrReentrantCall) {
					t.Errorf("enter: %v", err)
				}
				mu.Lock()
				rejected++
				mu.Unlock()
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	close(start)
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected a single holder at a time, saw %d", maxSeen)
	}
	if guard.Active() {
		t.Fatalf("guard left active after every holder released")
	}
	t.Logf("%d of 16 callers found the guard occupied", rejected)
}
