package pools

import (
	"sync"
	"testing"
)

type shell struct{ n int }

func newCounterPool(policy Refill) (*ShellPool[*shell], *int) {
	made := 0
	var mu sync.Mutex
	return NewShellPool(func() *shell {
		mu.Lock()
		defer mu.Unlock()
		made++
		return &shell{n: made}
	}, policy), &made
}

// TestGetBuildsOnMiss tests that an empty pool builds directly
func TestGetBuildsOnMiss(t *testing.T) {
	p, made := newCounterPool(Refill{LowWater: 2, Replenish: 4, Burst: 8})

	if s := p.Get(); s == nil {
		t.Fatal("Get returned nil")
	}
	if *made != 1 {
		t.Errorf("Expected 1 shell built, got %d", *made)
	}
	stats := p.Stats()
	if stats.Misses != 1 || stats.Available != 0 {
		t.Errorf("Unexpected stats after miss: %+v", stats)
	}
}

func TestReplenishPolicy(t *testing.T) {
	p, _ := newCounterPool(Refill{LowWater: 2, Replenish: 4, Burst: 8})

	if !p.Low() {
		t.Fatal("Empty pool should be low")
	}
	if n := p.Replenish(false, nil); n != 6 {
		t.Errorf("Idle top-up built %d, want 6 (low water + replenish)", n)
	}
	if p.Low() {
		t.Error("Pool still low after top-up")
	}
	if n := p.Replenish(false, nil); n != 0 {
		t.Errorf("Idle pool above low water built %d", n)
	}

	if n := p.Replenish(true, nil); n != 4 {
		t.Errorf("Busy top-up built %d, want 4 to reach 10", n)
	}
	if p.Len() != 10 {
		t.Errorf("Expected stock 10, got %d", p.Len())
	}
}

// TestReplenishBoundedWhileBusy tests that repeated busy top-ups never push
// the stock past the burst target
func TestReplenishBoundedWhileBusy(t *testing.T) {
	policy := Refill{LowWater: 16, Replenish: 32, Burst: 64}
	p, made := newCounterPool(policy)

	for i := 0; i < 100; i++ {
		p.Replenish(true, nil)
		if i%2 == 0 {
			p.Get()
		}
	}

	target := policy.LowWater + policy.Burst
	if p.Len() > target {
		t.Errorf("Stock %d exceeds target %d", p.Len(), target)
	}
	if *made > target+50 {
		t.Errorf("Built %d shells for 50 gets, want at most %d", *made, target+50)
	}
}

func TestTarget(t *testing.T) {
	p, _ := newCounterPool(Refill{LowWater: 2, Replenish: 4, Burst: 8})
	if got := p.Target(false); got != 6 {
		t.Errorf("Idle target = %d, want 6", got)
	}
	if got := p.Target(true); got != 10 {
		t.Errorf("Busy target = %d, want 10", got)
	}
}

func TestFillStopsWhenBudgetSpent(t *testing.T) {
	p, _ := newCounterPool(DefaultRefill)
	calls := 0
	built := p.Fill(10, func() bool {
		calls++
		return calls <= 3
	})
	if built != 3 {
		t.Errorf("Expected 3 shells before the budget ran out, got %d", built)
	}
}

func TestGetReusesStockLIFO(t *testing.T) {
	p, made := newCounterPool(DefaultRefill)
	p.Fill(3, nil)

	s := p.Get()
	if s.n != 3 {
		t.Errorf("Expected the newest shell (3), got %d", s.n)
	}
	p.Put(s)
	if again := p.Get(); again != s {
		t.Error("Put shell was not handed out next")
	}
	if *made != 3 {
		t.Errorf("Expected no extra builds, got %d", *made)
	}

	stats := p.Stats()
	if stats.Reused != 2 || stats.Released != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPolicyNormalisation(t *testing.T) {
	p, _ := newCounterPool(Refill{LowWater: 1, Replenish: 0, Burst: 1})
	if p.policy.Replenish != DefaultRefill.Replenish {
		t.Errorf("Replenish = %d, want default %d", p.policy.Replenish, DefaultRefill.Replenish)
	}
	if p.policy.Burst != DefaultRefill.Replenish {
		t.Errorf("Burst = %d, want it raised to %d", p.policy.Burst, DefaultRefill.Replenish)
	}
}

func TestConcurrentGetPut(t *testing.T) {
	p, _ := newCounterPool(DefaultRefill)
	p.Fill(20, nil)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := p.Get()
			p.Put(s)
		}()
	}
	wg.Wait()
	if p.Len() < 20 {
		t.Errorf("Stock shrank to %d", p.Len())
	}
}
