package exchange

import (
	"context"
	"errors"
	"time"
)

// RetryConfig 指数退避参数，来自配置不写死。
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

// DefaultRetry 兜底参数。
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: 2}
}

// Retrier 把瞬时错误的重试与安全系统耦合起来：每次重试都会通过 onError
// 上报（接熔断器的 API 错误窗口），持续抖动的交易所最终会触发停机。
type Retrier struct {
	cfg     RetryConfig
	onError func(errType string)
}

// NewRetrier onError 可以为 nil。
func NewRetrier(cfg RetryConfig, onError func(errType string)) *Retrier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Backoff < 1 {
		cfg.Backoff = 2
	}
	return &Retrier{cfg: cfg, onError: onError}
}

// Do 执行 fn 并在瞬时失败时退避重试。ErrOrderNotFound 不重试：
// 这是确定性结论，留给对账/漂移逻辑处理。
func (r *Retrier) Do(ctx context.Context, errType string, fn func() error) error {
	delay := r.cfg.Delay
	var lastErr error
	for attempt := 0; attempt < r.cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.cfg.Backoff)
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if errors.Is(lastErr, ErrOrderNotFound) {
			return lastErr
		}
		if r.onError != nil {
			r.onError(errType)
		}
	}
	return lastErr
}
