// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dslib

import "github.com/packetd/htpguard/internal/bstr"

// Entry 是 Table 的一个键值对 对应 table_t 内部交替排列的 (key, value)
type Entry[V any] struct {
	Key   []byte
	Value V
}

// Table 是一个有序多重映射: 按插入顺序迭代 键比较为 ASCII 大小写不敏感
//
// 对应 dslib.c 中的 table_t: 内部用一个顺序序列保存交替的 (key, value)
// 主查找是 O(n) 的线性扫描 这是有意为之的取舍——header 数量有限
// 保序比查找速度更重要 (参见 spec.md §4.1)
type Table[V any] struct {
	entries []Entry[V]
}

// NewTable 创建一个初始容量为 size 的空 Table
func NewTable[V any](size int) *Table[V] {
	if size <= 0 {
		size = 4
	}
	return &Table[V]{entries: make([]Entry[V], 0, size)}
}

// Add 追加一个新条目 即便键已存在也不会覆盖 对应 table_add
func (t *Table[V]) Add(key []byte, value V) {
	t.entries = append(t.entries, Entry[V]{Key: key, Value: value})
}

// Get 返回首个大小写不敏感匹配的条目 对应 table_get
func (t *Table[V]) Get(key []byte) (V, bool) {
	var zero V
	for _, e := range t.entries {
		if bstr.EqualFold(e.Key, key) {
			return e.Value, true
		}
	}
	return zero, false
}

// GetIndex 返回首个匹配条目在序列中的下标 未找到返回 -1
func (t *Table[V]) GetIndex(key []byte) int {
	for i, e := range t.entries {
		if bstr.EqualFold(e.Key, key) {
			return i
		}
	}
	return -1
}

// Set 替换首个匹配条目的值 不存在时追加 对应 table_set
func (t *Table[V]) Set(key []byte, value V) {
	if i := t.GetIndex(key); i >= 0 {
		t.entries[i].Value = value
		return
	}
	t.Add(key, value)
}

// GetOrCreate 返回首个匹配条目的值指针语义: 若不存在则先以 create() 的结果追加
// 再返回其下标 用于"重复 header 折叠"场景的 get-or-create-then-append 原语
func (t *Table[V]) GetOrCreate(key []byte, create func() V) (idx int, created bool) {
	if i := t.GetIndex(key); i >= 0 {
		return i, false
	}
	t.Add(key, create())
	return len(t.entries) - 1, true
}

// At 按插入顺序下标直接访问
func (t *Table[V]) At(i int) (Entry[V], bool) {
	var zero Entry[V]
	if i < 0 || i >= len(t.entries) {
		return zero, false
	}
	return t.entries[i], true
}

// Len 返回条目数量
func (t *Table[V]) Len() int { return len(t.entries) }

// Each 按插入顺序遍历所有条目 回调返回 false 时提前终止
func (t *Table[V]) Each(f func(i int, e Entry[V]) bool) {
	for i, e := range t.entries {
		if !f(i, e) {
			return
		}
	}
}

// Clear 清空所有条目但保留已分配容量
func (t *Table[V]) Clear() {
	t.entries = t.entries[:0]
}
