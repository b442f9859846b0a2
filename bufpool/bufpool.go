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

// Package bufpool 提供一个全局复用的字节缓冲池
//
// 取样包里多个协议解码器(phttp/phttp2/pamqp 等)都引用了
// github.com/packetd/packetd/internal/bufpool 作为逐连接行缓冲的来源
// 但该包本身未随取样一起保留下来；这里依据调用方 Acquire()/Release() 的
// 使用方式重建它 底层改用 valyala/bytebufferpool 而不是裸 sync.Pool
// 包 *bytes.Buffer 以获得其按使用量自适应收缩超大缓冲区的策略(见该库
// README 中的 "Calibration" 机制) 这正是 htp 在处理分片到达的请求行/
// 头部/chunk-size 行时反复 Acquire/Release 的场景所需要的
package bufpool

import "github.com/valyala/bytebufferpool"

var pool bytebufferpool.Pool

// Acquire 从池中取出一个已清空的缓冲区 调用方用完后必须调用 Release
func Acquire() *bytebufferpool.ByteBuffer {
	return pool.Get()
}

// Release 把缓冲区归还到池中 归还后调用方不应再持有该指针
func Release(b *bytebufferpool.ByteBuffer) {
	pool.Put(b)
}
