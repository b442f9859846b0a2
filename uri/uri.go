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

// Package uri 实现路径/URI 解码器：percent 解码、可选的 %uHHHH 解码、
// 分隔符归一化、UTF-8 校验与 best-fit 折叠、NUL/控制字符策略、大小写折叠
//
// 没有保留对应的 libhtp C 源码(htp_urldecode_ex 一族没有随取样包一起
// 保留下来) 本包直接依据 spec.md §4.3 的六阶段流程实现 阶段顺序与标志
// 位语义均照其逐条对应 参见 DESIGN.md 对 C4 的落地记录
package uri

import (
	"github.com/mitchellh/mapstructure"

	"github.com/packetd/htpguard/logger"
)

// Policy 描述遇到非法编码序列时的处理策略
type Policy int

const (
	// PreservePercent 保留字面 '%' 并继续处理其后的字节
	PreservePercent Policy = iota
	// RemovePercent 丢弃 '%' 并继续
	RemovePercent
	// ProcessInvalid 产出 '?' (0x3F) 并消费掉后面最多两个非法数字
	ProcessInvalid
)

// NulPolicy 描述遇到 NUL 字节(原始或解码得到)时的处理策略
type NulPolicy int

const (
	// NulLeave 原样保留 NUL 字节
	NulLeave NulPolicy = iota
	// NulTerminate 在 NUL 处截断路径(后续字节被丢弃)
	NulTerminate
	// NulStatus 记录一个需求状态码(400 或 404) 但不改变缓冲内容
	NulStatus
)

// ControlPolicy 描述遇到控制字符(< 0x20，不含已由 NUL 策略处理的 0x00)时的处理策略
type ControlPolicy int

const (
	// ControlIgnore 放行控制字符
	ControlIgnore ControlPolicy = iota
	// ControlStatus400 要求 400 状态
	ControlStatus400
)

// Flags 是按位或累积的观测标志位 对应 spec.md §4.3 中提到的 PATH_* 标志
type Flags uint32

const (
	// FlagInvalidEncoding 表示至少发生过一次非法的 %HH 或 %uHHHH 序列
	FlagInvalidEncoding Flags = 1 << iota
	// FlagHalfFullRange 表示至少发生过一次全角/半角 %u 映射
	FlagHalfFullRange
	// FlagOverlongU 表示至少一次成功的 %u 解码(无论是否触发半角/全角映射)
	FlagOverlongU
	// FlagUTF8Invalid 表示解码缓冲中存在不合法的 UTF-8 字节序列
	FlagUTF8Invalid
	// FlagUTF8Overlong 表示存在过长编码的 UTF-8 序列
	FlagUTF8Overlong
	// FlagEncodedSeparator 表示一个编码的 '/' 被当作分隔符处理
	FlagEncodedSeparator
	// FlagPathTruncatedNul 表示路径因 NUL 截断策略而被截短
	FlagPathTruncatedNul
)

// BestFitTable 把一个 Unicode 码位映射为单字节的最佳替代
//
// 通过 uri.LoadBestFit 从 JSON/YAML 片段加载(使用 mitchellh/mapstructure
// 完成弱类型 map 到该类型的转换) 缺省表只覆盖 ASCII 可打印范围的恒等映射
type BestFitTable map[rune]byte

// DefaultBestFit 返回一个只做 ASCII 可打印字符恒等映射的表：命中范围外
// 一律在调用处回退为 '?'
func DefaultBestFit() BestFitTable {
	t := make(BestFitTable, 95)
	for r := rune(0x20); r <= 0x7e; r++ {
		t[r] = byte(r)
	}
	return t
}

// LoadBestFit 把一份弱类型的配置片段(例如从 YAML/JSON 反序列化出的
// map[string]any 其中键是十进制或 "0x"-前缀的码位字符串 值是 0-255 的
// 整数)解码为 BestFitTable 使用 mitchellh/mapstructure 完成弱类型转换
// 这样主机侧可以把 best-fit 表作为普通配置片段下发 而不必写 Go 代码
func LoadBestFit(raw map[string]any) (BestFitTable, error) {
	var decoded map[string]int
	cfg := &mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}

	table := make(BestFitTable, len(decoded))
	for k, v := range decoded {
		cp, err := parseCodepointKey(k)
		if err != nil {
			return nil, err
		}
		table[cp] = byte(v)
	}
	return table, nil
}

// parseCodepointKey 解析一个十进制或 0x 前缀的十六进制码位字符串
func parseCodepointKey(k string) (rune, error) {
	base := 10
	s := k
	if len(s) > 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		base = 16
		s = s[2:]
	}
	var v int
	for _, c := range []byte(s) {
		d, ok := isHex(c)
		if !ok || d >= base {
			return 0, &parseCodepointError{k}
		}
		v = v*base + d
	}
	return rune(v), nil
}

type parseCodepointError struct{ key string }

func (e *parseCodepointError) Error() string {
	return "uri: invalid best-fit table key " + e.key
}

// Config 是路径解码器的配置记录 对应 spec.md §9 中列举的字段子集
type Config struct {
	// PercentPolicy 控制非法 %HH 序列的处理方式
	PercentPolicy Policy
	// UPercentEnabled 打开后识别并解码 %uHHHH 序列
	UPercentEnabled bool
	// UPercentPolicy 控制非法 %uHHHH 序列的处理方式
	UPercentPolicy Policy
	// DecodeEncodedSeparators 打开后 被编码的 '/' 解码后仍按分隔符对待
	DecodeEncodedSeparators bool
	// BackslashAsSeparator 打开后 反斜杠也被当作路径分隔符
	BackslashAsSeparator bool
	// CompressSeparators 打开后 连续多个分隔符被压缩为一个
	CompressSeparators bool
	// UTF8Enabled 打开后 合法 UTF-8 序列按 BestFit 折叠为单字节
	UTF8Enabled bool
	// BestFit 是 UTF-8/%u 折叠使用的码位到单字节映射表
	BestFit BestFitTable
	// RawNulPolicy 控制原始(未编码) NUL 字节的处理方式
	RawNulPolicy NulPolicy
	// EncodedNulPolicy 控制解码后得到 NUL 字节的处理方式
	EncodedNulPolicy NulPolicy
	// NulUnwantedStatus 在 *NulPolicy == NulStatus 时需求的状态码(400/404)
	NulUnwantedStatus int
	// ControlCharPolicy 控制非 NUL 控制字符的处理方式
	ControlCharPolicy ControlPolicy
	// UnwantedStatus 是非法编码序列触发时需求的状态码(0/400/404)
	UnwantedStatus int
	// CaseFold 打开后 ASCII 大写字母折叠为小写
	CaseFold bool
}

// DefaultConfig 返回一组宽松、尽量保留原始数据的默认配置
func DefaultConfig() Config {
	return Config{
		PercentPolicy:     PreservePercent,
		UPercentPolicy:    PreservePercent,
		BestFit:           DefaultBestFit(),
		RawNulPolicy:      NulLeave,
		EncodedNulPolicy:  NulLeave,
		ControlCharPolicy: ControlIgnore,
		UnwantedStatus:    0,
	}
}

// Result 汇总一次 Decode 调用的观测结果
type Result struct {
	// Flags 是本次调用累积的标志位
	Flags Flags
	// DemandedStatus 是本次调用要求的 HTTP 状态码 0 表示无需求
	//
	// 多个阶段都产生需求时 取编号最大的状态码(400 < 404) 对应 spec.md
	// §4.3 末尾 "highest-numbered code" 的措辞；解码器从不需求 5xx
	DemandedStatus int
}

func (r *Result) demand(status int) {
	if status > r.DemandedStatus {
		r.DemandedStatus = status
	}
}

// isHex 返回 c 是否为合法十六进制数字及其数值
func isHex(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// tagged 把每个输出字节和它是否由 percent/%u 解码产生关联起来
//
// 这个标记贯穿阶段 (1)-(5): 分隔符阶段靠它区分"字面 /"与"解码出的 /"
// (DecodeEncodedSeparators 关闭时后者被当作数据) NUL 阶段靠它在
// RawNulPolicy 与 EncodedNulPolicy 之间选择 对应 spec.md §4.3 "each have
// independent policies" 的字面要求
type tagged struct {
	b       byte
	encoded bool
}

// Decode 对 path 依次执行六阶段流程 返回解码后的新缓冲区(长度不会超过
// 输入)和观测结果 调用方应以返回值的 Result.Flags/DemandedStatus 驱动
// 后续的拒绝/记录逻辑；libhtp 原版在调用方持有的缓冲区上原地改写，这里
// 改为返回一个新切片，因为中间阶段需要携带逐字节来源标记(见 tagged)
func Decode(path []byte, cfg Config) ([]byte, Result) {
	var res Result

	buf := decodePercentAndU(path, cfg, &res)
	buf = normalizeSeparators(buf, cfg, &res)
	buf = validateAndFoldUTF8(buf, cfg, &res)
	out := applyNulAndControlPolicies(buf, cfg, &res)
	if cfg.CaseFold {
		foldCase(out)
	}
	if res.Flags != 0 {
		logger.Debugf("uri: decode raised flags=%#x on %q", res.Flags, path)
	}
	if res.DemandedStatus != 0 {
		logger.Warnf("uri: decode of %q demands status %d", path, res.DemandedStatus)
	}
	return out, res
}

// decodePercentAndU 实现阶段 (1)(2): percent 解码与可选的 %uHHHH 解码
func decodePercentAndU(path []byte, cfg Config, res *Result) []tagged {
	out := make([]tagged, 0, len(path))
	i := 0
	n := len(path)

	for i < n {
		c := path[i]
		if c != '%' {
			out = append(out, tagged{b: c})
			i++
			continue
		}

		if cfg.UPercentEnabled && i+1 < n && (path[i+1] == 'u' || path[i+1] == 'U') {
			consumed := tryDecodeU(path[i:n], cfg, res, &out)
			i += consumed
			continue
		}

		consumed := tryDecodePercent(path[i:n], cfg, res, &out)
		i += consumed
	}
	return out
}

// tryDecodePercent 处理从 '%' 开始的一段 尝试解析两位十六进制
// 返回消费的输入字节数 并把结果追加到 *out
func tryDecodePercent(seg []byte, cfg Config, res *Result, out *[]tagged) int {
	// seg[0] == '%'
	if len(seg) >= 3 {
		d1, ok1 := isHex(seg[1])
		d2, ok2 := isHex(seg[2])
		if ok1 && ok2 {
			*out = append(*out, tagged{b: byte(d1<<4 | d2), encoded: true})
			return 3
		}
	}

	// 非法序列: 根据策略处理 '%' 本身 ProcessInvalid 还会消费最多两个后续字节中
	// 实际存在的非法数字 其余策略让 '%' 之后的字节按普通数据继续处理
	res.Flags |= FlagInvalidEncoding
	res.demand(cfg.UnwantedStatus)

	consumed := 1
	switch cfg.PercentPolicy {
	case RemovePercent:
		// 丢弃 '%' 不输出任何字节
	case ProcessInvalid:
		*out = append(*out, tagged{b: '?', encoded: true})
		// 额外消费紧跟着的、本应是十六进制数字但不是的字节 最多两个
		for k := 1; k <= 2 && consumed < len(seg); k++ {
			if _, ok := isHex(seg[consumed]); ok {
				break
			}
			consumed++
		}
	default: // PreservePercent
		*out = append(*out, tagged{b: '%'})
	}
	return consumed
}

// tryDecodeU 处理从 "%u"/"%U" 开始的一段 四位十六进制构成一个 UCS-2 码位
func tryDecodeU(seg []byte, cfg Config, res *Result, out *[]tagged) int {
	// seg[0]=='%' seg[1] in {'u','U'}
	if len(seg) >= 6 {
		var cp int
		valid := true
		for k := 0; k < 4; k++ {
			d, ok := isHex(seg[2+k])
			if !ok {
				valid = false
				break
			}
			cp = cp<<4 | d
		}
		if valid {
			emitBestFit(rune(cp), cfg, res, out)
			res.Flags |= FlagOverlongU
			res.demand(cfg.UnwantedStatus)
			return 6
		}
	}

	// 非法 %u 序列(含 end-of-input 时不足 4 位数字的情形): 三路策略同 percent
	res.Flags |= FlagInvalidEncoding
	res.demand(cfg.UnwantedStatus)

	consumed := 2 // '%' + 'u'
	switch cfg.UPercentPolicy {
	case RemovePercent:
		consumed = 1 // 只丢弃 '%' 'u' 及其后的字节按普通数据继续处理
	case ProcessInvalid:
		*out = append(*out, tagged{b: '?', encoded: true})
		for k := 0; k < 4 && consumed < len(seg); k++ {
			if _, ok := isHex(seg[consumed]); !ok {
				break
			}
			consumed++
		}
	default:
		*out = append(*out, tagged{b: '%'}, tagged{b: seg[1]})
	}
	return consumed
}

// emitBestFit 把码位 cp 按 spec §4.3 阶段 (2) 的规则折叠为单字节并追加到 *out
func emitBestFit(cp rune, cfg Config, res *Result, out *[]tagged) {
	if cp >= 0xff01 && cp <= 0xff5e {
		res.Flags |= FlagHalfFullRange
		*out = append(*out, tagged{b: byte(cp - 0xfee0), encoded: true})
		return
	}
	if b, ok := cfg.BestFit[cp]; ok {
		*out = append(*out, tagged{b: b, encoded: true})
		return
	}
	*out = append(*out, tagged{b: '?', encoded: true})
}

// normalizeSeparators 实现阶段 (3): 分隔符归一化与压缩
//
// 一个解码得到的 '/' (tag.encoded) 只有在 cfg.DecodeEncodedSeparators 打开
// 时才被当作分隔符参与压缩；关闭时它被当成普通数据字节 原样保留 对应
// spec.md §4.3 "otherwise it is treated as data and left as-is"
func normalizeSeparators(path []tagged, cfg Config, res *Result) []tagged {
	out := path[:0]
	lastWasSep := false

	for _, t := range path {
		isLiteralSep := t.b == '/' && !t.encoded
		isDecodedSep := t.b == '/' && t.encoded && cfg.DecodeEncodedSeparators
		isBackslashSep := cfg.BackslashAsSeparator && t.b == '\\'

		if isLiteralSep || isDecodedSep || isBackslashSep {
			if isDecodedSep {
				res.Flags |= FlagEncodedSeparator
			}
			if cfg.CompressSeparators && lastWasSep {
				continue
			}
			out = append(out, tagged{b: '/'})
			lastWasSep = true
			continue
		}
		out = append(out, t)
		lastWasSep = false
	}
	return out
}

// validateAndFoldUTF8 实现阶段 (4): UTF-8 校验与可选折叠
func validateAndFoldUTF8(path []tagged, cfg Config, res *Result) []tagged {
	out := path[:0]
	i := 0
	n := len(path)

	raw := make([]byte, n)
	for k, t := range path {
		raw[k] = t.b
	}

	for i < n {
		c := raw[i]
		if c < 0x80 {
			out = append(out, path[i])
			i++
			continue
		}

		size, cp, overlong, valid := decodeUTF8Rune(raw[i:n])
		if !valid {
			res.Flags |= FlagUTF8Invalid
			out = append(out, path[i])
			i++
			continue
		}
		if overlong {
			res.Flags |= FlagUTF8Overlong
		}
		if cfg.UTF8Enabled {
			var tmp []tagged
			emitBestFit(cp, cfg, res, &tmp)
			out = append(out, tmp...)
		} else {
			out = append(out, path[i:i+size]...)
		}
		i += size
	}
	return out
}

// decodeUTF8Rune 解码 buf 开头的一个 UTF-8 序列
// 返回消费字节数、码位、是否为过长编码、是否是合法序列
func decodeUTF8Rune(buf []byte) (size int, cp rune, overlong bool, valid bool) {
	b0 := buf[0]
	switch {
	case b0&0xe0 == 0xc0:
		if len(buf) < 2 || buf[1]&0xc0 != 0x80 {
			return 1, 0, false, false
		}
		cp = rune(b0&0x1f)<<6 | rune(buf[1]&0x3f)
		return 2, cp, cp < 0x80, true

	case b0&0xf0 == 0xe0:
		if len(buf) < 3 || buf[1]&0xc0 != 0x80 || buf[2]&0xc0 != 0x80 {
			return 1, 0, false, false
		}
		cp = rune(b0&0x0f)<<12 | rune(buf[1]&0x3f)<<6 | rune(buf[2]&0x3f)
		return 3, cp, cp < 0x800, true

	case b0&0xf8 == 0xf0:
		if len(buf) < 4 || buf[1]&0xc0 != 0x80 || buf[2]&0xc0 != 0x80 || buf[3]&0xc0 != 0x80 {
			return 1, 0, false, false
		}
		cp = rune(b0&0x07)<<18 | rune(buf[1]&0x3f)<<12 | rune(buf[2]&0x3f)<<6 | rune(buf[3]&0x3f)
		return 4, cp, cp < 0x10000, true

	default:
		return 1, 0, false, false
	}
}

// applyNulAndControlPolicies 实现阶段 (5): NUL 与控制字符策略
//
// 原始 NUL (tag.encoded==false) 与解码得到的 NUL (tag.encoded==true) 各自
// 套用 RawNulPolicy/EncodedNulPolicy 对应 spec.md §4.3 "each have
// independent policies" 的字面要求
func applyNulAndControlPolicies(path []tagged, cfg Config, res *Result) []byte {
	out := make([]byte, 0, len(path))
	for _, t := range path {
		if t.b == 0x00 {
			policy := cfg.RawNulPolicy
			if t.encoded {
				policy = cfg.EncodedNulPolicy
			}
			switch policy {
			case NulTerminate:
				res.Flags |= FlagPathTruncatedNul
				return out
			case NulStatus:
				res.demand(cfg.NulUnwantedStatus)
				out = append(out, t.b)
			default:
				out = append(out, t.b)
			}
			continue
		}
		if t.b < 0x20 && cfg.ControlCharPolicy == ControlStatus400 {
			res.demand(400)
		}
		out = append(out, t.b)
	}
	return out
}

// foldCase 实现阶段 (6): 原地 ASCII 大写折叠为小写
func foldCase(path []byte) {
	for i, c := range path {
		if c >= 'A' && c <= 'Z' {
			path[i] = c + ('a' - 'A')
		}
	}
}
