package client

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRefreshGroup_SharesInFlightCall(t *testing.T) {
	var g refreshGroup
	var calls int32
	release := make(chan struct{})

	const n = 8
	results := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = g.do(context.Background(), func() bool {
				atomic.AddInt32(&calls, 1)
				<-release
				return true
			})
		}(i)
	}

	waitFor(t, func() bool { return g.waiting() == n })
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("refresh ran %d times, want 1", got)
	}
	for i, ok := range results {
		if !ok {
			t.Errorf("caller %d got false, want shared true", i)
		}
	}
	if g.inFlight() {
		t.Error("in-flight marker not cleared")
	}
}

func TestRefreshGroup_ClearedAfterFailure(t *testing.T) {
	var g refreshGroup
	calls := 0

	for i := 0; i < 2; i++ {
		ok := g.do(context.Background(), func() bool {
			calls++
			return false
		})
		if ok {
			t.Fatalf("attempt %d: want failure", i)
		}
		if g.inFlight() {
			t.Fatalf("attempt %d: in-flight marker left behind", i)
		}
	}
	if calls != 2 {
		t.Errorf("independent failures should each refresh: got %d calls, want 2", calls)
	}
}

func TestRefreshGroup_ClearedAfterPanic(t *testing.T) {
	var g refreshGroup
	func() {
		defer func() { _ = recover() }()
		g.do(context.Background(), func() bool { panic("boom") })
	}()
	if g.inFlight() {
		t.Error("in-flight marker left behind after panic")
	}
}

func TestRefreshGroup_WaiterContextCancelled(t *testing.T) {
	var g refreshGroup
	release := make(chan struct{})
	leaderDone := make(chan bool)

	go func() {
		leaderDone <- g.do(context.Background(), func() bool {
			<-release
			return true
		})
	}()
	waitFor(t, g.inFlight)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if g.do(ctx, func() bool { t.Error("waiter must not start its own refresh"); return true }) {
		t.Error("cancelled waiter should report failure")
	}

	close(release)
	if !<-leaderDone {
		t.Error("leader should still see its own success")
	}
}
