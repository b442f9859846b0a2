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

import (
	"github.com/packetd/htpguard/multipart"
	"github.com/packetd/htpguard/uri"
)

// LineEndingStrictness 控制对非规范行结束符的容忍度
type LineEndingStrictness int

const (
	// LineEndingTolerant 接受 CRLF 或裸 LF 作为终止符 裸 LF 只打标记不拒绝
	// 行只在 LF 处切分 孤立的 CR 不会结束一行
	LineEndingTolerant LineEndingStrictness = iota
	// LineEndingStrict 与 LineEndingTolerant 的解析行为相同: 请求/响应解析器
	// 不读取 Config.LineEndings 非 CRLF 的行结束符不会被视为错误
	LineEndingStrict
)

// Config 汇集了 htp 包所有可配置的解析行为 对应 spec.md §4.5-§4.8/§9 (C10)
type Config struct {
	// URI 控制请求目标/路径解码阶段的行为 (C4)
	URI uri.Config

	// Multipart 控制 multipart/form-data 请求体解析行为 (C9)
	Multipart multipart.Config

	// LineEndings 记录请求行/头部行结束符的容忍策略 解析器不读取该字段
	LineEndings LineEndingStrictness

	// MaxBodyChunkSize 限制单次推送给 body 观察者的字节数上限 0 表示不限制
	MaxBodyChunkSize int

	// DecompressResponseBody 为真时对声明了 gzip/deflate 的响应体解压
	DecompressResponseBody bool

	// ParseMultipart 为真时对 multipart/form-data 请求体调用 multipart 解析器
	ParseMultipart bool

	// RequireHostHeader 为真时 HTTP/1.1 请求缺少可用主机名会被标记 HOST_MISSING
	RequireHostHeader bool
}

// DefaultConfig 返回一组保守、贴合 spec.md 默认值的配置
func DefaultConfig() Config {
	return Config{
		URI:                    uri.DefaultConfig(),
		Multipart:              multipart.DefaultConfig(),
		LineEndings:            LineEndingTolerant,
		MaxBodyChunkSize:       0,
		DecompressResponseBody: true,
		ParseMultipart:         true,
		RequireHostHeader:      true,
	}
}
