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

// TxFlags 是附着在单个事务上的观测位标记 对应 spec.md §4.5/§4.6 中
// 解析过程里各阶段 OR 进事务的标记集合
type TxFlags uint32

const (
	// FlagRequestSmuggling 同时出现 Transfer-Encoding 和 Content-Length
	FlagRequestSmuggling TxFlags = 1 << iota
	// FlagRequestInvalidCL Content-Length 不是合法的非负整数
	FlagRequestInvalidCL
	// FlagHostAmbiguous 请求行权威部分与 Host 头大小写折叠后不一致
	FlagHostAmbiguous
	// FlagHostMissing HTTP/1.1 报文既无请求行权威部分也无 Host 头
	FlagHostMissing
	// FlagHostHeaderInvalid Host 头的值未通过保守的主机名字符集校验
	FlagHostHeaderInvalid
	// FlagHostURIInvalid 请求行权威部分未通过保守的主机名字符集校验
	FlagHostURIInvalid
	// FlagLineEndingNonCanonical 观察到以裸 LF 而非 CRLF 结束的行
	FlagLineEndingNonCanonical
	// FlagURIRewritten 请求目标经历了 http:///、https:/// 空权威拼接重写
	FlagURIRewritten
	// FlagDecompressionFailed 响应体声明了 gzip/deflate 但解压失败 已降级为透传
	FlagDecompressionFailed
	// FlagMultipartInvalid multipart 边界非法或缺失 导致放弃 multipart 解析
	FlagMultipartInvalid
	// FlagPartIncomplete multipart 流在最后一个边界之前被截断
	FlagPartIncomplete
)

// ConnFlags 是附着在整条连接上的观测位标记 对应 spec.md §4.7
type ConnFlags uint32

const (
	// FlagPipelined 在前一个响应完成之前 请求解析器就开始了下一个事务
	FlagPipelined ConnFlags = 1 << iota
	// FlagHTTP09Extra 同一连接上观测到多个 HTTP/0.9 风格的请求
	FlagHTTP09Extra
	// FlagTunnel CONNECT 请求收到 2xx 响应后 连接进入隧道透传模式
	FlagTunnel
)
