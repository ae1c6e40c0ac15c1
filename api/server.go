// Package api exposes the operational control surface: kill switch
// management and guard state inspection.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/guard"
	"grid-trader-go/metrics"
)

// Server 运维控制面：停机开关的触发/恢复与守护状态查询。
// 挂在内网端口，不做鉴权，由部署层隔离。
type Server struct {
	kill    *guard.KillSwitch
	guards  *guard.Registry
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New 创建控制面服务。
func New(kill *guard.KillSwitch, guards *guard.Registry, m *metrics.Metrics, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{kill: kill, guards: guards, metrics: m, log: log}
}

// Router 构建路由。
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.handleStatus)
	r.POST("/kill", s.handleKill)
	r.POST("/reset", s.handleReset)
	r.GET("/guard/:tenant", s.handleGuard)
	return r
}

// Serve 在 addr 上启动控制面；addr 为空则不启动。
func (s *Server) Serve(addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := s.Router().Run(addr); err != nil {
			s.log.Error("control server exited", zap.Error(err))
		}
	}()
}

type killRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleStatus(c *gin.Context) {
	active, reason := s.kill.Active()
	resp := gin.H{
		"kill_switch_active": active,
		"tenants":            s.guards.Tenants(),
	}
	if active {
		resp["reason"] = reason
		resp["activated_at"] = s.kill.ActivatedAt().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// handleKill 人工触发停机。幂等：已激活时返回现有原因，不覆盖。
func (s *Server) handleKill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	first := s.kill.Activate("manual: " + req.Reason)
	_, reason := s.kill.Active()
	if s.metrics != nil {
		s.metrics.KillSwitchOn.Set(1)
	}
	if first {
		s.log.LogRisk("kill_switch_manual", zap.String("reason", reason))
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "reason": reason, "first": first})
}

// handleReset 人工恢复。只清进程内状态，熔断阈值下一次越限会再次触发。
func (s *Server) handleReset(c *gin.Context) {
	s.kill.Reset()
	if s.metrics != nil {
		s.metrics.KillSwitchOn.Set(0)
	}
	s.log.LogRisk("kill_switch_reset")
	c.JSON(http.StatusOK, gin.H{"active": false})
}

func (s *Server) handleGuard(c *gin.Context) {
	tenantID := c.Param("tenant")
	found := false
	for _, id := range s.guards.Tenants() {
		if id == tenantID {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	st := s.guards.ForTenant(tenantID).Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"tenant_id":      st.TenantID,
		"global_pnl_usd": st.GlobalPnlUSD,
		"run_pnl_usd":    st.RunPnlUSD,
		"inventory_base": st.InventoryBase,
		"inventory_cost": st.InventoryCost,
		"last_ticker_ts": st.LastTickerTs,
		"api_errors_1m":  len(st.APIErrors),
		"updated_at":     st.UpdatedAt,
	})
}
