package rwmap

import (
	"cmp"
	"slices"
	"sync"
)

type RWMap[K cmp.Ordered, V any] struct {
	sync.RWMutex
	m map[K]V
}

// 新建一个RWMap
func NewRWMap[K cmp.Ordered, V any](n int) *RWMap[K, V] {
	return &RWMap[K, V]{
		m: make(map[K]V, n),
	}
}

func (m *RWMap[K, V]) Get(key K) (V, bool) { // 从map中读取一个值
	m.RLock()
	defer m.RUnlock()
	v, existed := m.m[key] // 在锁的保护下从map中读取
	return v, existed
}

func (m *RWMap[K, V]) Set(key K, v V) { // 设置一个键值对
	m.Lock() // 锁保护
	defer m.Unlock()
	m.m[key] = v
}

func (m *RWMap[K, V]) Delete(key K) { // 删除一个键
	m.Lock() // 锁保护
	defer m.Unlock()
	delete(m.m, key)
}

func (m *RWMap[K, V]) Len() int { // map的长度
	m.RLock() // 锁保护
	defer m.RUnlock()
	return len(m.m)
}

func (m *RWMap[K, V]) Keys() []K { // 升序排列的全部键
	m.RLock()
	defer m.RUnlock()
	keys := make([]K, 0, len(m.m))
	for key := range m.m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
