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

// Package multipart 流式解析 multipart/form-data 请求体
//
// 移植自 libhtp 的 htp_multipart.c: 围绕 "CRLF -- boundary" 这个内部边界
// 匹配模式的逐字节状态机(DATA/BOUNDARY/BOUNDARY_IS_LAST2/IS_LAST1/EAT_LF)
// 这里改用 bufio.SplitFunc 风格的滚动窗口扫描表达同一组转移 而不是逐字节
// 的 switch 分支 因为 Go 里按字节切片整体匹配前缀比照搬 C 的状态枚举更直接
// 也更容易审查其正确性 语义(包括 PREAMBLE/EPILOGUE 捕获 逐部分的
// 头部折叠解析 Content-Disposition 分类 文件落盘)与原版保持一致
package multipart

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/packetd/htpguard/internal/bstr"
	"github.com/packetd/htpguard/internal/dslib"
	"github.com/packetd/htpguard/logger"
)

// PartType 标识一个 part 在 multipart 报文里的角色
type PartType int

const (
	// PartPreamble 第一个边界之前的字节 非空时才会被捕获
	PartPreamble PartType = iota
	// PartText 没有 filename 参数的 Content-Disposition part
	PartText
	// PartFile 带 filename 参数的 Content-Disposition part
	PartFile
	// PartEpilogue 最后一个边界之后剩余的字节
	PartEpilogue
)

// Flags 是附着在整个 multipart body 上的观测位标记
type Flags uint32

const (
	// FlagCRLFSeen 观察到了 CRLF 形式的行结束
	FlagCRLFSeen Flags = 1 << iota
	// FlagLFSeen 观察到了裸 LF 形式的行结束
	FlagLFSeen
	// FlagSeenLastBoundary 已经看到了结尾的 "--boundary--"
	FlagSeenLastBoundary
	// FlagPartIncomplete 流在出现结尾边界之前被截断
	FlagPartIncomplete
	// FlagRepeatedHeader 某个 part 内出现了重复的头部名
	FlagRepeatedHeader
)

// Part 是已经完成(或部分完成)解析的一个 multipart 分段
type Part struct {
	Type PartType

	Name     string
	FileName string

	Headers *dslib.Table[string]

	// Data 保存 TEXT/PREAMBLE/EPILOGUE part 的完整正文 FILE part 只在正文
	// 没有落盘时使用此字段
	Data []byte

	// TempFilePath 非空时表示 FILE part 的正文已经落盘到该路径
	TempFilePath string
	// ByteCount 是该 part 正文的总字节数 无论是否启用了文件落盘都会更新
	ByteCount int64
}

// Config 控制 multipart 解析器的行为 对应 spec.md §4.8 中可配置的提取策略
type Config struct {
	// ExtractFiles 为真时 FILE part 的正文被写入临时文件而不是保留在内存里
	ExtractFiles bool
	// ExtractDir 是临时文件的目录 空值表示使用系统默认临时目录
	ExtractDir string
	// MaxFileExtractCount 限制单个请求体内落盘文件的数量 超出后退化为内存保存
	MaxFileExtractCount int
}

// DefaultConfig 返回保守的默认配置: 不落盘 不限制 part 数量
func DefaultConfig() Config {
	return Config{ExtractFiles: false, MaxFileExtractCount: 0}
}

type scanState int

const (
	stateData scanState = iota
	stateBoundary
	stateBoundaryIsLast1
	stateBoundaryIsLast2
	stateBoundaryEatLF
)

type phase int

const (
	phaseHeaders phase = iota
	phaseBody
)

// Body 是一次 multipart 解析的完整结果 由 Parser.Finalize 产出
type Body struct {
	Parts        []*Part
	Flags        Flags
	filesWritten int
}

// Parser 是一个可增量喂入字节块的 multipart/form-data 解析器
//
// 每次 Write 调用可以携带任意边界切分的数据 解析器内部维护一个滚动窗口
// 以便在单次 Write 内无法判定的候选边界跨越多次调用时仍能正确匹配
type Parser struct {
	cfg      Config
	boundary []byte // 不含前导 "--" 的边界值本身

	state scanState
	ph    phase

	pending     []byte // 尚未判定归属的滚动窗口(可能是边界候选 也可能最终证明只是数据)
	pendingLine []byte // STATE_DATA 里暂不落地的结尾字节(头部行为整行 正文行只是 CRLF)

	cur       *Part
	curHeader []byte // 当前 part 头部阶段累积的原始字节(用于折叠/continuation)

	body Body

	digest *xxhash.Digest
}

// NewParser 创建一个以 boundary 为分隔符的新解析器
func NewParser(boundary []byte, cfg Config) *Parser {
	p := &Parser{
		cfg:      cfg,
		boundary: append([]byte(nil), boundary...),
		// 起始状态就是 BOUNDARY: 每一行的开头都是边界候选 这样报文体
		// 不带 PREAMBLE、直接以 "--boundary" 起始的常见情形也能被识别
		// 而不必等到"读完一整行之后才检查下一行是不是边界"
		state:  stateBoundary,
		ph:     phaseBody, // PREAMBLE 没有头部段 直接当作正文收集
		digest: xxhash.New(),
	}
	p.cur = &Part{Type: PartPreamble}
	return p
}

// matchLen 返回内部边界匹配模式 "--boundary" 的长度(CRLF 由调用方单独处理)
func (p *Parser) matchLen() int { return 2 + len(p.boundary) }

// Write 喂入下一块请求体字节 必须按流顺序调用
func (p *Parser) Write(chunk []byte) error {
	data := chunk
	if len(p.pending) > 0 {
		data = append(p.pending, chunk...)
		p.pending = nil
	}

	i := 0
	for i < len(data) {
		switch p.state {
		case stateData:
			idx := bytes.IndexByte(data[i:], '\n')
			if idx < 0 {
				rest := data[i:]
				if p.ph == phaseHeaders {
					// 头部行尚未结束: 整行留到下一次 拼齐后再判定是否为空行
					p.pending = append([]byte(nil), rest...)
					return nil
				}
				// 整段都是数据 但要把结尾处可能是 CRLF 边界引导的字节留到
				// 下一次: 一个落单的尾随 CR 有可能是下一块数据开头 LF 的
				// 前半段 一旦拼起来就是一次完整的行结束 使其后的字节进入
				// 边界候选判定 而不能提前把这个 CR 当成已确定的 body 字节
				// 落地 —— 对应 htp_mpartp_parse 里 cr_aside 被单独留存的做法
				if n := len(rest); n > 0 && rest[n-1] == '\r' {
					p.appendBody(rest[:n-1])
					p.pending = append([]byte(nil), rest[n-1:]...)
				} else {
					p.appendBody(rest)
				}
				return nil
			}
			lineEnd := i + idx + 1
			line := data[i:lineEnd]
			p.observeLineEnding(line)
			switch {
			case p.ph == phaseHeaders && isBlankLine(line):
				p.parsePartHeaders()
				p.pendingLine = nil
			case p.ph == phaseHeaders:
				// 头部行上边界几乎不会直接跟在后面 整行原样暂存
				// 不匹配时连同折行所需的换行符一起落回 curHeader
				p.pendingLine = append([]byte(nil), line...)
			default:
				// 正文行: 行内容本身已经确定属于 body 立即落地 只有结尾的
				// CRLF/LF 可能是 "CRLF--boundary" 定界符的引导符 暂不落地
				// 对应 spec.md §4.8 STATE_DATA 里 "hold one byte aside" 的做法
				content, ending := splitLineEnding(line)
				p.appendBody(content)
				p.pendingLine = append([]byte(nil), ending...)
			}
			i = lineEnd
			p.state = stateBoundary

		case stateBoundary:
			need := p.matchLen()
			if len(data)-i < need {
				// 只缓冲尚未判定的候选字节本身 pendingLine 保持不变
				// 等下一次 Write 把新字节拼接到候选起点继续判定
				p.pending = append([]byte(nil), data[i:]...)
				return nil
			}
			if data[i] == '-' && data[i+1] == '-' && bstr.EqualFold(data[i+2:i+need], p.boundary) {
				// 匹配成功: pendingLine held 的正是定界符前导的 CRLF/LF 本身 丢弃之
				p.pendingLine = nil
				p.finishBoundaryMatch()
				i += need
				p.state = stateBoundaryIsLast1
			} else {
				// 不匹配: 之前暂存的行尾字节确实属于 body/头部 落地后从候选字节起点
				// (未消费 i 不变)重新按 DATA 状态扫描
				if p.pendingLine != nil {
					p.appendBody(p.pendingLine)
					p.pendingLine = nil
				}
				p.state = stateData
			}

		case stateBoundaryIsLast1:
			if i >= len(data) {
				p.pending = nil
				return nil
			}
			if data[i] == '-' {
				i++
				p.state = stateBoundaryIsLast2
			} else {
				p.state = stateBoundaryEatLF
			}

		case stateBoundaryIsLast2:
			if i >= len(data) {
				return nil
			}
			if data[i] == '-' {
				i++
				p.body.Flags |= FlagSeenLastBoundary
			}
			p.state = stateBoundaryEatLF

		case stateBoundaryEatLF:
			for i < len(data) && (data[i] == ' ' || data[i] == '\t' || data[i] == '\r') {
				i++
			}
			if i >= len(data) {
				return nil
			}
			if data[i] == '\n' {
				i++
			}
			if p.body.Flags.has(FlagSeenLastBoundary) {
				p.startEpilogue()
			} else {
				p.startNextPart()
			}
			p.state = stateData
		}
	}
	return nil
}

func isBlankLine(line []byte) bool {
	trimmed := bytes.TrimRight(line, "\r\n")
	return len(trimmed) == 0
}

// splitLineEnding 把一行拆成内容和结尾的 CRLF/LF 两部分 结尾部分原样保留
// (不同于 htp.stripLineEnding 不会丢弃结尾字节 调用方需要把它暂存起来)
func splitLineEnding(line []byte) (content, ending []byte) {
	n := len(line)
	switch {
	case n >= 2 && line[n-2] == '\r' && line[n-1] == '\n':
		return line[:n-2], line[n-2:]
	case n >= 1 && line[n-1] == '\n':
		return line[:n-1], line[n-1:]
	default:
		return line, nil
	}
}

func (p *Parser) observeLineEnding(line []byte) {
	switch {
	case bytes.HasSuffix(line, []byte("\r\n")):
		p.body.Flags |= FlagCRLFSeen
	case bytes.HasSuffix(line, []byte("\n")):
		p.body.Flags |= FlagLFSeen
	}
}

func (p *Parser) appendBody(b []byte) {
	if len(b) == 0 {
		return
	}
	if p.ph == phaseHeaders {
		p.curHeader = append(p.curHeader, b...)
		return
	}
	p.cur.ByteCount += int64(len(b))
	_, _ = p.digest.Write(b)
	if p.cur.Type == PartFile && p.cfg.ExtractFiles {
		p.writeFileChunk(b)
		return
	}
	p.cur.Data = append(p.cur.Data, b...)
}

func (p *Parser) writeFileChunk(b []byte) {
	if p.cur.TempFilePath == "" {
		if err := p.openTempFile(); err != nil {
			// 落盘失败时退化为内存保存 不中止整体解析
			logger.Errorf("multipart: failed to open temp file for part %q, keeping body in memory: %v", p.cur.Name, err)
			p.cur.Data = append(p.cur.Data, b...)
			return
		}
	}
	f, err := os.OpenFile(p.cur.TempFilePath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Errorf("multipart: failed to append to temp file %s: %v", p.cur.TempFilePath, err)
		return
	}
	defer f.Close()
	_, _ = f.Write(b)
}

func (p *Parser) openTempFile() error {
	if p.cfg.MaxFileExtractCount > 0 && p.body.filesWritten >= p.cfg.MaxFileExtractCount {
		return fmt.Errorf("multipart: file extraction limit reached")
	}
	dir := p.cfg.ExtractDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "libhtp-multipart-file-*")
	if err != nil {
		return err
	}
	p.cur.TempFilePath = f.Name()
	p.body.filesWritten++
	return f.Close()
}

// finishBoundaryMatch 结算当前 part 准备进入下一个 part
func (p *Parser) finishBoundaryMatch() {
	p.finalizeCurrentPart()
}

func (p *Parser) startNextPart() {
	p.cur = &Part{Type: PartText}
	p.ph = phaseHeaders
	p.curHeader = nil
}

// startEpilogue 在最后一个边界之后开启 EPILOGUE 伪 part: 没有头部段 直接收正文
func (p *Parser) startEpilogue() {
	p.cur = &Part{Type: PartEpilogue}
	p.ph = phaseBody
	p.curHeader = nil
}

func (p *Parser) finalizeCurrentPart() {
	if p.cur.Type == PartPreamble && len(p.cur.Data) == 0 {
		// 空前导不记录 对应 spec.md: "非空时才会被捕获"
	} else {
		p.body.Parts = append(p.body.Parts, p.cur)
	}
}

// parsePartHeaders 把 curHeader 累积的原始字节折叠为头部表 并据此对当前 part 分类
//
// 与 htp_mpartp_parse_header 的折叠规则一致: 名称在第一个 ':' 处结束
// 续行(以水平空白开头)用单个空格拼接 重复名称的值用 ", " 拼接并置位 REPEATED
func (p *Parser) parsePartHeaders() {
	headers := dslib.NewTable[string](4)
	lines := splitFoldedLines(p.curHeader)
	for _, line := range lines {
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := bytes.TrimSpace(line[:idx])
		value := bytes.TrimSpace(line[idx+1:])
		if existing, ok := headers.Get(name); ok {
			headers.Set(name, existing+", "+string(value))
			p.body.Flags |= FlagRepeatedHeader
		} else {
			headers.Add(name, string(value))
		}
	}
	p.cur.Headers = headers

	if cd, ok := headers.Get([]byte("Content-Disposition")); ok {
		name, filename, ok := parseContentDisposition(cd)
		if ok {
			p.cur.Name = name
			if filename != "" {
				p.cur.FileName = filename
				p.cur.Type = PartFile
			}
		}
	}
	p.ph = phaseBody
}

// splitFoldedLines 把原始头部字节按 CRLF/LF 拆分为逻辑行 续行拼接到上一行
func splitFoldedLines(raw []byte) [][]byte {
	var lines [][]byte
	for _, rawLine := range bytes.SplitAfter(raw, []byte("\n")) {
		line := bytes.TrimRight(rawLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] = append(lines[len(lines)-1], ' ')
			lines[len(lines)-1] = append(lines[len(lines)-1], bytes.TrimSpace(line)...)
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines
}

// parseContentDisposition 解析 "form-data; name=\"x\"; filename=\"y\"" 形式的值
func parseContentDisposition(value string) (name, filename string, ok bool) {
	parts := bytes.Split([]byte(value), []byte(";"))
	if len(parts) == 0 {
		return "", "", false
	}
	if !bstr.EqualFold(bytes.TrimSpace(parts[0]), []byte("form-data")) {
		return "", "", false
	}
	for _, raw := range parts[1:] {
		kv := bytes.SplitN(bytes.TrimSpace(raw), []byte("="), 2)
		if len(kv) != 2 {
			continue
		}
		key := string(bytes.TrimSpace(kv[0]))
		val := unquoteParam(bytes.TrimSpace(kv[1]))
		switch key {
		case "name":
			name = val
		case "filename":
			filename = val
		}
	}
	return name, filename, true
}

// unquoteParam 去除参数值两端的引号 并透明丢弃反斜杠转义
func unquoteParam(v []byte) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		out = append(out, v[i])
	}
	return string(out)
}

// ExtractBoundary 从 Content-Type 头的值中提取 boundary 参数
// 对应 spec.md §4.8 "Boundary extraction": 定位第一个 ';' 跳过空白 要求
// token "boundary" 一个 '=' 然后是边界值(quoted-string 或合法 token)
func ExtractBoundary(contentType string) (boundary []byte, ok bool) {
	idx := bytes.IndexByte([]byte(contentType), ';')
	if idx < 0 {
		return nil, false
	}
	rest := trimLeadingSpace(contentType[idx+1:])
	if len(rest) < len("boundary") || bytesToLowerASCII(rest[:len("boundary")]) != "boundary" {
		return nil, false
	}
	rest = rest[len("boundary"):]
	rest = trimLeadingSpace(rest)
	if len(rest) == 0 || rest[0] != '=' {
		return nil, false
	}
	rest = trimLeadingSpace(rest[1:])
	if len(rest) == 0 {
		return nil, false
	}
	if rest[0] == '"' {
		end := bytes.IndexByte([]byte(rest[1:]), '"')
		if end < 0 {
			return nil, false
		}
		return []byte(rest[1 : 1+end]), true
	}
	end := 0
	for end < len(rest) && isBoundaryTokenChar(rest[end]) {
		end++
	}
	if end == 0 {
		return nil, false
	}
	return []byte(rest[:end]), true
}

func isBoundaryTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '\'', '(', ')', '+', '_', ',', '-', '.', '/', ':', '=', '?':
		return true
	}
	return false
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[i:]
}

func bytesToLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Finalize 表示请求体已经全部喂入 返回解析出的 Body
//
// 若流在最后一个边界之前结束(未见过任何边界 或未看到 seen_last_boundary)
// 置位 FlagPartIncomplete 但仍保留已解析出的 part
func (p *Parser) Finalize() *Body {
	hasContent := len(p.cur.Data) > 0 || p.cur.ByteCount > 0 || p.cur.TempFilePath != ""
	if p.ph == phaseBody && hasContent {
		p.body.Parts = append(p.body.Parts, p.cur)
	}
	if !p.body.Flags.has(FlagSeenLastBoundary) {
		p.body.Flags |= FlagPartIncomplete
		logger.Warnf("multipart: stream ended before closing boundary, %d part(s) kept", len(p.body.Parts))
	}
	return &p.body
}

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Digest 返回到目前为止所有正文字节的 xxhash 摘要 用作部件去重/缓存键的前置过滤
func (p *Parser) Digest() uint64 { return p.digest.Sum64() }
