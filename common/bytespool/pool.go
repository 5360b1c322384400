// Package bytespool 为 IPC 收发缓冲区提供按大小分级的复用池。
package bytespool

import "sync"

// 共 numPools 级，从 MinPoolSize 开始每级翻倍，最大一级覆盖 guest 单次收发的常见上限。
const (
	numPools    = 7
	sizeMulti   = 2
	MinPoolSize = 1024
	MaxPoolSize = MinPoolSize << (numPools - 1)
)

var (
	pools     [numPools]sync.Pool
	poolSizes [numPools]int
)

func init() {
	size := MinPoolSize
	for i := range numPools {
		n := size
		pools[i].New = func() any {
			b := make([]byte, n)
			return &b
		}
		poolSizes[i] = size
		size *= sizeMulti
	}
}

func classOf(size int) int {
	for i, ps := range poolSizes {
		if size <= ps {
			return i
		}
	}
	return -1
}

// Alloc 返回长度为 size 且已清零的切片。小于 MinPoolSize 或大于 MaxPoolSize 的请求直接分配。
func Alloc(size int) []byte {
	if size < MinPoolSize || size > MaxPoolSize {
		return make([]byte, size)
	}
	bp := pools[classOf(size)].Get().(*[]byte)
	b := (*bp)[:size]
	clear(b)
	return b
}

// Free 归还 Alloc 得到的切片，容量不属于任何一级的切片会被忽略。
func Free(b []byte) {
	c := cap(b)
	if c < MinPoolSize || c > MaxPoolSize {
		return
	}
	idx := classOf(c)
	if poolSizes[idx] != c {
		return
	}
	b = b[:c]
	pools[idx].Put(&b)
}
