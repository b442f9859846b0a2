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

// Package htp 实现了面向网关的高可信 HTTP 报文流解析核心
//
// 移植自 packetd 的 protocol/phttp 解码器的整体形状(状态枚举、按行累积、
// chunked 拖尾处理、bufpool 复用) 但把 teacher 版本"读到一条完整报文就
// 返回"的简化 泛化为 spec.md 要求的完全可恢复单线程协作式状态机: 每次
// Feed 调用都可能在任意字节边界上挂起 并通过 OK/DATA/DATA_OTHER/ERROR/
// STOP 这五态结果显式告知调用方该如何继续喂入数据
package htp

import (
	"time"

	"github.com/google/uuid"
)

// Connection 持有一条 TCP 连接上请求方向和响应方向各自的解析状态
// 以及按到达顺序排列的事务列表 对应 spec.md §4.7 (C8)
type Connection struct {
	ID     uuid.UUID
	Config *Config
	Hooks  *Hooks

	Transactions []*Transaction
	respCursor   int

	Flags ConnFlags

	req  requestParserState
	resp responseParserState

	sawHTTP09 bool
}

// NewConnection 创建一条使用给定配置与钩子集合的新连接
// hooks 为 nil 时使用一组全空的钩子(等价于没有观察者)
func NewConnection(cfg *Config, h *Hooks) *Connection {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}
	if h == nil {
		h = NewHooks()
	}
	return &Connection{
		ID:     uuid.New(),
		Config: cfg,
		Hooks:  h,
		req:    requestParserState{state: reqStateIdle, lineAcc: newLineAccumulator()},
		resp:   responseParserState{state: respStateAwaitingTx, lineAcc: newLineAccumulator()},
	}
}

// Close 释放连接持有的底层缓冲池资源 调用方在连接终止(FIN/RST/超时淘汰)
// 后应当调用一次 未完成的 chunked 解码器也会被一并释放
func (c *Connection) Close() {
	c.req.lineAcc.release()
	c.resp.lineAcc.release()
	if c.req.chunked != nil {
		c.req.chunked.release()
	}
	if c.resp.chunked != nil {
		c.resp.chunked.release()
	}
}

// maybeCompleteTransaction 在请求和响应两个方向都完成后触发 TRANSACTION_COMPLETE
func (c *Connection) maybeCompleteTransaction(tx *Transaction) {
	if tx.RequestComplete() && tx.ResponseComplete() {
		c.Hooks.TransactionComplete.RunAll(tx)
	}
}

// CloseRequest 通知解析器客户端方向的字节流已经结束 目前请求体总有显式长度
// (chunked 或 Content-Length) 所以本方法不改变任何解析状态 总是返回 Ok
func (c *Connection) CloseRequest(now time.Time) Result {
	_ = now
	return Ok()
}
