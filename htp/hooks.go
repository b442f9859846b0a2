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

package htp

import "github.com/packetd/htpguard/hooks"

// DataEvent 是喂给 *_HEADER_DATA / *_BODY_DATA 钩子的负载: 归属的事务加一段原始字节
type DataEvent struct {
	Tx   *Transaction
	Data []byte
}

// Hooks 汇集了 spec.md §4.7 列出的全部 16 个钩子点 均为 run-all 语义
// 按一个事务内实际发生的顺序排列 字段名直接对应钩子名称
type Hooks struct {
	RequestStart        *hooks.Registry[*Transaction]
	RequestLine         *hooks.Registry[*Transaction]
	RequestURINormalize *hooks.Registry[*Transaction]
	RequestHeaders      *hooks.Registry[*Transaction]
	RequestHeaderData   *hooks.Registry[*DataEvent]
	RequestBodyData     *hooks.Registry[*DataEvent]
	RequestTrailer      *hooks.Registry[*Transaction]
	RequestComplete     *hooks.Registry[*Transaction]

	ResponseStart       *hooks.Registry[*Transaction]
	ResponseLine        *hooks.Registry[*Transaction]
	ResponseHeaders     *hooks.Registry[*Transaction]
	ResponseHeaderData  *hooks.Registry[*DataEvent]
	ResponseBodyData    *hooks.Registry[*DataEvent]
	ResponseTrailer     *hooks.Registry[*Transaction]
	ResponseComplete    *hooks.Registry[*Transaction]

	TransactionComplete *hooks.Registry[*Transaction]
}

// NewHooks 创建一组全部已初始化为空注册表的钩子集合
func NewHooks() *Hooks {
	return &Hooks{
		RequestStart:        hooks.New[*Transaction](),
		RequestLine:         hooks.New[*Transaction](),
		RequestURINormalize: hooks.New[*Transaction](),
		RequestHeaders:      hooks.New[*Transaction](),
		RequestHeaderData:   hooks.New[*DataEvent](),
		RequestBodyData:     hooks.New[*DataEvent](),
		RequestTrailer:      hooks.New[*Transaction](),
		RequestComplete:     hooks.New[*Transaction](),

		ResponseStart:      hooks.New[*Transaction](),
		ResponseLine:       hooks.New[*Transaction](),
		ResponseHeaders:    hooks.New[*Transaction](),
		ResponseHeaderData: hooks.New[*DataEvent](),
		ResponseBodyData:   hooks.New[*DataEvent](),
		ResponseTrailer:    hooks.New[*Transaction](),
		ResponseComplete:   hooks.New[*Transaction](),

		TransactionComplete: hooks.New[*Transaction](),
	}
}

// Clone 为一条即将被单独关注的连接(例如需要临时挂一个调试钩子的可疑连接)
// 产出一份浅拷贝的钩子集合: 拷贝后的注册表与原集合共享已注册的回调 但各自
// 的 Register 调用互不影响 对应 libhtp hook_copy 的"克隆以便单独定制"语义
func (h *Hooks) Clone() *Hooks {
	return &Hooks{
		RequestStart:        h.RequestStart.Clone(),
		RequestLine:         h.RequestLine.Clone(),
		RequestURINormalize: h.RequestURINormalize.Clone(),
		RequestHeaders:      h.RequestHeaders.Clone(),
		RequestHeaderData:   h.RequestHeaderData.Clone(),
		RequestBodyData:     h.RequestBodyData.Clone(),
		RequestTrailer:      h.RequestTrailer.Clone(),
		RequestComplete:     h.RequestComplete.Clone(),

		ResponseStart:      h.ResponseStart.Clone(),
		ResponseLine:       h.ResponseLine.Clone(),
		ResponseHeaders:    h.ResponseHeaders.Clone(),
		ResponseHeaderData: h.ResponseHeaderData.Clone(),
		ResponseBodyData:   h.ResponseBodyData.Clone(),
		ResponseTrailer:    h.ResponseTrailer.Clone(),
		ResponseComplete:   h.ResponseComplete.Clone(),

		TransactionComplete: h.TransactionComplete.Clone(),
	}
}
