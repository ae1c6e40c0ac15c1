package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SizingUpdate 热更新回调收到的增量：仅 sizing 类参数允许在线调整。
type SizingUpdate struct {
	TenantID    string
	GridSteps   int
	GridSizePct float64
	PerTradeUSD float64
}

// Watcher 基于 fsnotify 监听配置文件，校验后只下发 sizing 参数变更。
type Watcher struct {
	path     string
	cooldown time.Duration
	current  AppConfig

	mu         sync.Mutex
	lastReload time.Time
}

// NewWatcher 创建配置监听器；cooldown 防止编辑器多次写入触发连续 reload。
func NewWatcher(path string, initial AppConfig, cooldown time.Duration) *Watcher {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Watcher{path: path, cooldown: cooldown, current: initial}
}

// Start 阻塞运行直到 ctx 取消；每次有效变更调用 onUpdate。
func (w *Watcher) Start(ctx context.Context, onUpdate func([]SizingUpdate), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if updates := w.tryReload(onError); len(updates) > 0 && onUpdate != nil {
				onUpdate(updates)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

func (w *Watcher) tryReload(onError func(error)) []SizingUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.cooldown {
		return nil
	}
	w.lastReload = time.Now()

	updated, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return nil
	}
	if err := ValidateSizingUpdate(w.current, updated); err != nil {
		if onError != nil {
			onError(err)
		}
		return nil
	}

	updates := diffSizing(w.current, updated)
	if len(updates) > 0 {
		w.current = updated
	}
	return updates
}

func diffSizing(old, updated AppConfig) []SizingUpdate {
	var out []SizingUpdate
	for id, tc := range updated.Tenants {
		prev := old.Tenants[id]
		if tc.GridSteps != prev.GridSteps || tc.GridSizePct != prev.GridSizePct || tc.PerTradeUSD != prev.PerTradeUSD {
			out = append(out, SizingUpdate{
				TenantID:    id,
				GridSteps:   tc.GridSteps,
				GridSizePct: tc.GridSizePct,
				PerTradeUSD: tc.PerTradeUSD,
			})
		}
	}
	return out
}
