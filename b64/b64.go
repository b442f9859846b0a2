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

// Package b64 实现了一个可恢复的流式 base64 解码器
//
// 移植自 libhtp 的 htp_base64.c(其本身改编自 libb64 项目 public domain)
// C 版本用一个 4 态 switch-in-while 的 Duff's device 风格状态机 在输入耗尽
// 时保存 step/plainchar 以便下次调用续接 这里把每个 case 展开成显式的 Go
// 状态常量 加一个 Decoder 结构体持有续接所需的最小状态
package b64

// step 对应 C 版本的 step_a/step_b/step_c/step_d 四个阶段
// 每个阶段消费一个合法的 base64 字符 凑够 4 个字符输出 3 个字节
type step int

const (
	stepA step = iota
	stepB
	stepC
	stepD
)

// Decoder 是一个有状态、可跨多次调用续接的 base64 解码器
//
// 零值即可用(从 stepA 开始) 调用方在分片喂入数据时应复用同一个 Decoder
// 实例 而不是每次新建——新建会丢失 plainchar 里暂存的半个输出字节
type Decoder struct {
	step      step
	plainchar byte
}

// decodeSingle 将单个 base64 字符翻译为 0-63 的 6 位值
//
// 对应 htp_base64_decode_single: 返回 -1 表示非法字符(直接跳过) 返回 -2
// 表示 '=' 填充字符(同样当作非法字符跳过 与 C 版本行为一致) 表中下标以
// '+' (43) 为基准偏移
var decodeTable = [...]int8{
	62, -1, -1, -1, 63, 52, 53, 54, 55, 56, 57, 58, 59, 60, 61,
	-1, -1, -1, -2, -1, -1, -1, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17,
	18, 19, 20, 21, 22, 23, 24, 25, -1, -1, -1, -1, -1, -1, 26, 27, 28, 29, 30, 31, 32, 33, 34,
	35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47, 48, 49, 50, 51,
}

func decodeSingle(c byte) int8 {
	idx := int(c) - 43
	if idx < 0 || idx >= len(decodeTable) {
		return -1
	}
	return decodeTable[idx]
}

// Decode 消费 in 中尽可能多的合法 base64 字符 将解出的字节追加到 dst 并返回
//
// 非法字符(含换行、空白、'=' 填充)被静默跳过 这与 htp_base64_decode 的
// do-while 循环语义一致；输入在字符边界中途耗尽时 Decoder 保存状态 下次
// Decode 调用从同一个 step 续接 对应原版在 switch 语句里对 step 的保存/恢复
func (d *Decoder) Decode(in []byte, dst []byte) []byte {
	i := 0
	n := len(in)

	nextFragment := func() (int8, bool) {
		for i < n {
			f := decodeSingle(in[i])
			i++
			if f >= 0 {
				return f, true
			}
		}
		return 0, false
	}

	for {
		switch d.step {
		case stepA:
			fragment, ok := nextFragment()
			if !ok {
				d.step = stepA
				return dst
			}
			d.plainchar = byte(fragment&0x3f) << 2
			d.step = stepB
			fallthrough

		case stepB:
			fragment, ok := nextFragment()
			if !ok {
				d.step = stepB
				return dst
			}
			d.plainchar |= byte(fragment&0x30) >> 4
			dst = append(dst, d.plainchar)
			d.plainchar = byte(fragment&0x0f) << 4
			d.step = stepC

		case stepC:
			fragment, ok := nextFragment()
			if !ok {
				d.step = stepC
				return dst
			}
			d.plainchar |= byte(fragment&0x3c) >> 2
			dst = append(dst, d.plainchar)
			d.plainchar = byte(fragment&0x03) << 6
			d.step = stepD

		case stepD:
			fragment, ok := nextFragment()
			if !ok {
				d.step = stepD
				return dst
			}
			d.plainchar |= byte(fragment & 0x3f)
			dst = append(dst, d.plainchar)
			d.plainchar = 0
			d.step = stepA
		}
	}
}

// DecodeAll 一次性解码完整的 base64 输入 等价于对一个新 Decoder 调用一次
// Decode 对应 htp_base64_decode_mem/htp_base64_decode_bstr 的一次性用法
func DecodeAll(in []byte) []byte {
	var d Decoder
	return d.Decode(in, make([]byte, 0, len(in)/4*3+3))
}
