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

	"github.com/packetd/htpguard/internal/dslib"
)

// Header 是单个已解析的头部字段 Name 保留原始大小写 按 dslib.Table 的
// 大小写不敏感比较语义参与查找
type Header struct {
	Name  string
	Value string
}

// HeaderTable 是一张按插入顺序保序、键大小写不敏感的头部集合
type HeaderTable = dslib.Table[*Header]

// NewHeaderTable 创建一张空表
func NewHeaderTable() *HeaderTable { return dslib.NewTable[*Header](8) }

// foldedHeaderAccumulator 把逐行累积的原始字节折叠为逻辑头部行
//
// 对应 spec.md §4.5 HEADERS 状态: "accumulate one folded logical line at a
// time... continuation lines begin with horizontal whitespace"
type foldedHeaderAccumulator struct {
	table   *HeaderTable
	pending *Header // 当前正在累积续行的头部 nil 表示尚未开始
}

func newFoldedHeaderAccumulator() *foldedHeaderAccumulator {
	return &foldedHeaderAccumulator{table: NewHeaderTable()}
}

// addLine 喂入一条已经去除行结束符的原始头部行 返回 true 表示这是头部结束的空行
func (a *foldedHeaderAccumulator) addLine(line []byte) (blank bool) {
	if len(line) == 0 {
		a.flush()
		return true
	}
	if line[0] == ' ' || line[0] == '\t' {
		if a.pending != nil {
			a.pending.Value += " " + string(bytes.TrimSpace(line))
		}
		return false
	}
	a.flush()
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		// 没有冒号的畸形行: 整行当作无值的头部名 保持宽松解析而不是拒绝
		a.pending = &Header{Name: string(bytes.TrimSpace(line))}
		return false
	}
	name := string(bytes.TrimSpace(line[:idx]))
	value := string(bytes.TrimSpace(line[idx+1:]))
	a.pending = &Header{Name: name, Value: value}
	return false
}

// flush 把正在累积的 pending 头部写入表 重复名称的值按 ", " 拼接
func (a *foldedHeaderAccumulator) flush() {
	if a.pending == nil {
		return
	}
	h := a.pending
	a.pending = nil
	if existing, ok := a.table.Get([]byte(h.Name)); ok {
		existing.Value = existing.Value + ", " + h.Value
		a.table.Set([]byte(h.Name), existing)
		return
	}
	a.table.Add([]byte(h.Name), h)
}
