package guard

import (
	"sync"

	"grid-trader-go/infrastructure/alert"
	"grid-trader-go/infrastructure/logger"
)

// Registry 按租户持有熔断器单例；由组合根构造并注入，测试各自建各自的。
type Registry struct {
	cfg    Config
	kill   *KillSwitch
	alerts *alert.Manager
	log    *logger.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry 创建熔断器注册表。
func NewRegistry(cfg Config, kill *KillSwitch, alerts *alert.Manager, log *logger.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		kill:     kill,
		alerts:   alerts,
		log:      log,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// ForTenant 返回租户的熔断器，不存在则创建。
func (r *Registry) ForTenant(tenantID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[tenantID]; ok {
		return b
	}
	b := NewCircuitBreaker(tenantID, r.cfg, r.kill, r.alerts, r.log)
	r.breakers[tenantID] = b
	return b
}

// Tenants 返回已注册的租户列表。
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		out = append(out, id)
	}
	return out
}
