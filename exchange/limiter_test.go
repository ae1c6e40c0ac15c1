package exchange

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPacedLimiterEnforcesMinInterval(t *testing.T) {
	interval := 20 * time.Millisecond
	l := NewPacedLimiter(interval)
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); err != nil {
				t.Errorf("wait: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		for j := 0; j < i; j++ {
			gap := stamps[i].Sub(stamps[j])
			if gap < 0 {
				gap = -gap
			}
			if gap < interval-5*time.Millisecond {
				t.Fatalf("calls %d and %d only %v apart", j, i, gap)
			}
		}
	}
}

func TestPacedLimiterWaitCancelled(t *testing.T) {
	l := NewPacedLimiter(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = l.Wait(ctx) // 消耗突发额度
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestLimiterRegistrySingletonPerTenant(t *testing.T) {
	r := NewLimiterRegistry(time.Millisecond)
	a := r.ForTenant("t1")
	b := r.ForTenant("t1")
	if a != b {
		t.Fatalf("expected shared limiter per tenant")
	}
	if r.ForTenant("t2") == a {
		t.Fatalf("tenants must not share limiters")
	}
}
