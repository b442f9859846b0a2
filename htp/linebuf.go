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
	"bytes"

	"github.com/valyala/bytebufferpool"

	"github.com/packetd/htpguard/bufpool"
)

// lineAccumulator 把跨越多次 Feed 调用到达的字节重新拼接为完整的一行
//
// 对应 packetd 的 phttp/decoder.go 用 *bytes.Buffer 在 decodeHeader 状态
// 间累积部分行的做法 这里泛化为请求行/头部行/chunk-size 行共用的通用
// 组件 因为 bufpool.Acquire 返回的 bytebufferpool.ByteBuffer 没有 Read
// 方法 不能像 teacher 那样交给 bufio.NewReader/http.ReadRequest 这里
// 改为直接在字节切片上做 IndexByte 扫描
type lineAccumulator struct {
	buf *bytebufferpool.ByteBuffer
}

func newLineAccumulator() *lineAccumulator {
	return &lineAccumulator{buf: bufpool.Acquire()}
}

// feed 在 src 中查找 LF 找到时返回完整的一行(包含换行符 可能拼接了之前
// 缓冲的残留字节)、从 src 中消费的字节数、以及 found=true
// 找不到时把 src 全部追加进内部缓冲并返回 found=false
func (a *lineAccumulator) feed(src []byte) (line []byte, consumed int, found bool) {
	idx := bytes.IndexByte(src, '\n')
	if idx < 0 {
		a.buf.Write(src)
		return nil, len(src), false
	}
	consumed = idx + 1
	if a.buf.Len() == 0 {
		return src[:consumed], consumed, true
	}
	a.buf.Write(src[:consumed])
	line = append([]byte(nil), a.buf.Bytes()...)
	a.buf.Reset()
	return line, consumed, true
}

func (a *lineAccumulator) release() {
	if a.buf == nil {
		return
	}
	bufpool.Release(a.buf)
	a.buf = nil
}

// stripLineEnding 去掉一行末尾的 CRLF/LF/孤立 CR 返回去除后的内容以及
// 是否观察到了非规范(非 CRLF)的行结束符
func stripLineEnding(line []byte) (content []byte, nonCanonical bool) {
	n := len(line)
	switch {
	case n >= 2 && line[n-2] == '\r' && line[n-1] == '\n':
		return line[:n-2], false
	case n >= 1 && line[n-1] == '\n':
		return line[:n-1], true
	case n >= 1 && line[n-1] == '\r':
		return line[:n-1], true
	default:
		return line, true
	}
}
