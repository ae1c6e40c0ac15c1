package alert

import (
	"fmt"
	"sync"
	"time"
)

// Alert 告警信息
type Alert struct {
	Level     string                 // "INFO", "WARNING", "ERROR", "CRITICAL"
	TenantID  string                 // 所属租户，空表示全局
	Message   string                 // 告警消息
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。发送是 fire-and-forget：通道失败只记日志不重试。
type Manager struct {
	channels []Channel
	throttle *Throttler
	onError  func(channel string, err error)
	mu       sync.RWMutex
}

// Throttler 告警限流器，相同 (level, message) 在间隔内只发一次
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastTime, exists := t.lastSent[key]
	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 重置指定key的限流记录
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration, onError func(channel string, err error)) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		onError:  onError,
	}
}

// Notify 异步发送告警到所有通道。
func (m *Manager) Notify(a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	key := fmt.Sprintf("%s:%s:%s", a.TenantID, a.Level, a.Message)
	if !m.throttle.Allow(key) {
		return
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	go func() {
		for _, ch := range channels {
			if err := ch.Send(a); err != nil && m.onError != nil {
				m.onError(ch.Name(), err)
			}
		}
	}()
}

// NotifyKillSwitch 发送 kill switch 触发告警（CRITICAL，不可被限流吞掉首条）
func (m *Manager) NotifyKillSwitch(tenantID, reason string) {
	m.Notify(Alert{
		Level:    "CRITICAL",
		TenantID: tenantID,
		Message:  "kill switch activated: " + reason,
	})
}

// AddChannel 追加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}
