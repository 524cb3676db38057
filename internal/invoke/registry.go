package invoke

import (
	"strings"
	"sync"
	"time"
)

// Registry 按 Provider 分类管理 Invoker。
// 同一分类下的所有 Provider 共享同一个 Invoker 实现。
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
	fallback Invoker
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register 为指定分类注册 Invoker，重复注册时覆盖旧实现。
func (r *Registry) Register(category string, invoker Invoker) {
	category = strings.TrimSpace(category)
	if category == "" || invoker == nil {
		return
	}
	r.mu.Lock()
	r.invokers[category] = invoker
	r.mu.Unlock()
}

// SetFallback 指定分类未命中时使用的兜底 Invoker。
func (r *Registry) SetFallback(invoker Invoker) {
	r.mu.Lock()
	r.fallback = invoker
	r.mu.Unlock()
}

// Resolve 根据分类查找 Invoker。未注册且无兜底时返回 false。
func (r *Registry) Resolve(category string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if invoker, ok := r.invokers[strings.TrimSpace(category)]; ok {
		return invoker, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// DefaultRegistry 返回带有内置模拟 Invoker 的注册表。
// latency 控制每次调用的模拟耗时，为零时不等待。
func DefaultRegistry(latency time.Duration) *Registry {
	r := NewRegistry()
	r.Register("Research", NewResearchInvoker(latency))
	r.Register("Content", NewContentInvoker(latency))
	r.Register("Business Intelligence", NewAnalysisInvoker(latency))
	r.SetFallback(NewEchoInvoker(latency))
	return r
}
