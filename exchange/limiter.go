package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PacedLimiter 保证同一租户任意两次外发交易所调用至少间隔 interval，
// 被该租户的全部并发 worker 共享——这是多档位并行时不打爆交易所限流的关键。
type PacedLimiter struct {
	lim *rate.Limiter
}

// NewPacedLimiter interval 为最小调用间隔。
func NewPacedLimiter(interval time.Duration) *PacedLimiter {
	if interval <= 0 {
		interval = time.Millisecond
	}
	// burst 1：没有突发额度，纯粹的最小间隔排队
	return &PacedLimiter{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait 阻塞到允许下一次调用或 ctx 取消。
func (p *PacedLimiter) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

// LimiterRegistry 按租户持有限流器单例。每次调用新建限流器等于没有限流，
// 必须复用，所以注册表由组合根持有并注入。
type LimiterRegistry struct {
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*PacedLimiter
}

// NewLimiterRegistry 创建注册表。
func NewLimiterRegistry(interval time.Duration) *LimiterRegistry {
	return &LimiterRegistry{
		interval: interval,
		limiters: make(map[string]*PacedLimiter),
	}
}

// ForTenant 返回租户的限流器，不存在则创建。
func (r *LimiterRegistry) ForTenant(tenantID string) *PacedLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[tenantID]; ok {
		return l
	}
	l := NewPacedLimiter(r.interval)
	r.limiters[tenantID] = l
	return l
}
