package guard

import (
	"sync"
	"time"
)

// KillSwitch 进程级全局停机开关。不落库：重启即清零，这是有意的取舍
// （进程存续期内必须由运维显式 Reset 才能恢复）。
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time
}

// NewKillSwitch 创建停机开关，由组合根构造后注入，不做包级单例。
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Activate 触发停机；首次触发生效，后续调用不覆盖原因。
// 返回 true 表示本次调用完成了触发。
func (k *KillSwitch) Activate(reason string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return false
	}
	k.active = true
	k.reason = reason
	k.activatedAt = time.Now().UTC()
	return true
}

// Reset 清除停机状态；仅限人工/特权操作调用。
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = false
	k.reason = ""
	k.activatedAt = time.Time{}
}

// Active 返回当前状态与原因。
func (k *KillSwitch) Active() (bool, string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active, k.reason
}

// ActivatedAt 触发时间；未触发时为零值。
func (k *KillSwitch) ActivatedAt() time.Time {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activatedAt
}
