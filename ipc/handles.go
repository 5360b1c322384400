package ipc

import (
	"slices"
	"sync"
)

// handleTable 把会话映射到 guest 可见的句柄。
// 句柄单调递增且不复用，0 保留为无效句柄。
type handleTable[T any] struct {
	mu      sync.RWMutex
	entries map[uint32]T
	last    uint32
}

func newHandleTable[T any]() *handleTable[T] {
	return &handleTable[T]{entries: make(map[uint32]T)}
}

func (t *handleTable[T]) insert(v T) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last++
	if t.last == 0 {
		t.last = 1
	}
	t.entries[t.last] = v
	return t.last
}

func (t *handleTable[T]) get(handle uint32) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[handle]
	return v, ok
}

// take 取出并删除句柄，同一句柄只有一个调用方能取到。
func (t *handleTable[T]) take(handle uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	return v, ok
}

func (t *handleTable[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// handles 返回当前句柄的升序快照，即按打开顺序排列。
func (t *handleTable[T]) handles() []uint32 {
	t.mu.RLock()
	out := make([]uint32, 0, len(t.entries))
	for h := range t.entries {
		out = append(out, h)
	}
	t.mu.RUnlock()
	slices.Sort(out)
	return out
}
