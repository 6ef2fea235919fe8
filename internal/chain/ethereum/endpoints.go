package ethereum

import (
	"sync"
)

// Endpoints 轮询 RPC 节点列表，调用失败时依次切换到下一个节点
type Endpoints struct {
	mu    sync.Mutex
	urls  []string
	index int
}

// NewEndpoints 创建轮询节点列表，忽略空地址
func NewEndpoints(urls ...string) *Endpoints {
	list := make([]string, 0, len(urls))
	for _, u := range urls {
		if u != "" {
			list = append(list, u)
		}
	}
	return &Endpoints{urls: list}
}

// Len 节点数量
func (e *Endpoints) Len() int {
	return len(e.urls)
}

// Current 当前节点
func (e *Endpoints) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.urls) == 0 {
		return ""
	}
	return e.urls[e.index]
}

// Rotate 切换到下一个节点并返回
func (e *Endpoints) Rotate() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.urls) == 0 {
		return ""
	}
	e.index = (e.index + 1) % len(e.urls)
	return e.urls[e.index]
}

// All 返回节点列表副本
func (e *Endpoints) All() []string {
	out := make([]string, len(e.urls))
	copy(out, e.urls)
	return out
}
