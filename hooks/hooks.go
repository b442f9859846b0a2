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

// Package hooks 提供一个泛型的回调注册表 移植自 libhtp 的 hooks.c
//
// htp_hook_t 用 void* 回调加 list_array_t 存储 这里改用 Go 泛型
// Registry[T] 按调用数据类型参数化 回调签名固定为 func(T) Result
package hooks

// Result 是单个回调的返回状态 对应 HOOK_OK/HOOK_DECLINED/HOOK_ERROR
type Result int

const (
	// OK 表示回调已处理 data 且允许继续执行后续回调(RunAll)或停止(RunOne)
	OK Result = iota
	// Declined 表示回调不处理这份 data 只有 RunOne 关心这个值
	Declined
	// Error 表示回调执行失败 两种 Run 模式都会立即停止并向上传播
	Error
)

// Callback 是注册到 Registry 的回调函数签名
type Callback[T any] func(T) Result

// Registry 是某一类回调的有序集合 对应 htp_hook_t
//
// 零值可以直接使用(Register 按需分配) New 只是预先分配容量 Registry 本身不是并发安全的——调用方需要
// 自行同步 这与 libhtp 单线程状态机的假设一致
type Registry[T any] struct {
	callbacks []Callback[T]
}

// New 创建一个空注册表 对应 hook_create
func New[T any]() *Registry[T] {
	return &Registry[T]{callbacks: make([]Callback[T], 0, 4)}
}

// Register 追加一个回调 对应 hook_register
//
// libhtp 的 hook_register 接受 **htp_hook_t 以便在 hook 为 NULL 时就地创建；
// Go 里调用方总是先持有一个 *Registry(通过 New) 所以不需要这层间接
func (r *Registry[T]) Register(cb Callback[T]) {
	r.callbacks = append(r.callbacks, cb)
}

// Len 返回已注册回调数量
func (r *Registry[T]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.callbacks)
}

// Clone 返回注册表的浅拷贝：回调切片是新的底层数组 但回调函数本身共享
// 对应 hook_copy——之所以叫浅拷贝 是因为 Go 闭包没有可深拷贝的内部状态
func (r *Registry[T]) Clone() *Registry[T] {
	if r == nil {
		return nil
	}
	clone := &Registry[T]{callbacks: make([]Callback[T], len(r.callbacks))}
	copy(clone.callbacks, r.callbacks)
	return clone
}

// RunAll 依次运行所有回调 遇到 Error 立即中止并返回 Error
// 对应 hook_run_all: nil 注册表视为 OK(没有回调需要运行)
func (r *Registry[T]) RunAll(data T) Result {
	if r == nil {
		return OK
	}
	for _, cb := range r.callbacks {
		if cb(data) == Error {
			return Error
		}
	}
	return OK
}

// RunOne 依次运行回调 直到某一个返回非 Declined 的结果就停止
// 全部回调都 Declined(含零回调)时返回 Declined 对应 hook_run_one
func (r *Registry[T]) RunOne(data T) Result {
	if r == nil {
		return Declined
	}
	for _, cb := range r.callbacks {
		if status := cb(data); status != Declined {
			return status
		}
	}
	return Declined
}
