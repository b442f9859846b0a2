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

	"github.com/pkg/errors"

	"github.com/packetd/htpguard/internal/bstr"
)

// chunkedPhase 是单个方向 chunked 传输编码解码器的子状态
// 对应 spec.md §4.5 CHUNKED_LENGTH/CHUNKED_DATA/CHUNKED_DATA_END
type chunkedPhase int

const (
	chunkedPhaseLength chunkedPhase = iota
	chunkedPhaseData
	chunkedPhaseDataCRLF
	chunkedPhaseTrailer
	chunkedPhaseDone
)

// chunkedDecoder 是请求/响应两个方向共用的 chunked 传输编码状态机
type chunkedDecoder struct {
	phase      chunkedPhase
	remaining  int64
	lineAcc    *lineAccumulator
	trailer    *foldedHeaderAccumulator
}

func newChunkedDecoder() *chunkedDecoder {
	return &chunkedDecoder{phase: chunkedPhaseLength, lineAcc: newLineAccumulator()}
}

func (c *chunkedDecoder) release() { c.lineAcc.release() }

// step 在 data 上尽可能多地推进状态机 每当有一段 body 字节就绪时调用 sink
// 返回消费的字节数 以及是否已经到达 trailer 结束(即整个 chunked 报文结束)
func (c *chunkedDecoder) step(data []byte, sink func([]byte)) (consumed int, done bool, err error) {
	pos := 0
	for pos < len(data) {
		switch c.phase {
		case chunkedPhaseLength:
			line, n, found := c.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return pos, false, nil
			}
			content, _ := stripLineEnding(line)
			// chunk 扩展(形如 ";foo=bar")会被忽略 只取 ';' 之前的十六进制长度
			if idx := bytes.IndexByte(content, ';'); idx >= 0 {
				content = content[:idx]
			}
			n64, consumedDigits, perr := bstr.ParseUint(bytes.TrimSpace(content), 16)
			if perr != nil || consumedDigits == 0 {
				return pos, false, errors.Errorf("htp: invalid chunk length %q", content)
			}
			c.remaining = int64(n64)
			if c.remaining == 0 {
				c.phase = chunkedPhaseTrailer
				c.trailer = newFoldedHeaderAccumulator()
			} else {
				c.phase = chunkedPhaseData
			}

		case chunkedPhaseData:
			avail := len(data) - pos
			take := avail
			if int64(take) > c.remaining {
				take = int(c.remaining)
			}
			if take > 0 {
				sink(data[pos : pos+take])
				pos += take
				c.remaining -= int64(take)
			}
			if c.remaining == 0 {
				c.phase = chunkedPhaseDataCRLF
			} else {
				return pos, false, nil
			}

		case chunkedPhaseDataCRLF:
			line, n, found := c.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return pos, false, nil
			}
			_ = line
			c.phase = chunkedPhaseLength

		case chunkedPhaseTrailer:
			line, n, found := c.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return pos, false, nil
			}
			content, _ := stripLineEnding(line)
			if c.trailer.addLine(content) {
				c.phase = chunkedPhaseDone
				return pos, true, nil
			}
		}
	}
	return pos, false, nil
}
