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
	"strings"

	"github.com/packetd/htpguard/internal/bstr"
)

// parseRequestLine 把一条已去除行结束符的请求行拆分为方法/请求目标/协议
// 协议字段为空表示这是一条 HTTP/0.9 请求行(spec.md §4.5 LINE 状态)
func parseRequestLine(line []byte) (method, target, protocol string) {
	fields := bytes.Fields(line)
	switch len(fields) {
	case 0:
		return "", "", ""
	case 1:
		return string(fields[0]), "", ""
	case 2:
		return string(fields[0]), string(fields[1]), ""
	default:
		last := string(fields[len(fields)-1])
		if !isHTTPVersionToken(last) {
			// 目标里本不该出现空格 但宽松起见仍按 0.9 处理 取第二个字段为目标
			return string(fields[0]), string(fields[1]), ""
		}
		// 目标本身可能含有被中间字段吞掉的内容 正常情况下只有 3 个字段
		target := string(bytes.Join(fields[1:len(fields)-1], []byte(" ")))
		return string(fields[0]), target, last
	}
}

func isHTTPVersionToken(s string) bool {
	if !strings.HasPrefix(s, "HTTP/") {
		return false
	}
	rest := s[len("HTTP/"):]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return false
	}
	return isAllDigits(rest[:dot]) && isAllDigits(rest[dot+1:])
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// rewriteEmptyAuthorityURI 拼接掉 "http:///" 或 "https:///" 形式的空权威部分
// 对应 spec.md §4.5 "Request-URI rewrites"
func rewriteEmptyAuthorityURI(target string) (rewritten string, changed bool) {
	for _, scheme := range []string{"http:///", "https:///"} {
		if strings.HasPrefix(target, scheme) {
			return target[len(scheme)-1:], true
		}
	}
	return target, false
}

// extractURIAuthority 从请求目标里解析出显式携带的权威部分(host[:port])
// CONNECT 的目标本身就是 "host:port" 绝对形式 URI 的权威部分在 "scheme://" 之后
func extractURIAuthority(method, target string) (host string, port int, ok bool) {
	if strings.EqualFold(method, "CONNECT") {
		return splitHostPort(target)
	}
	idx := strings.Index(target, "://")
	if idx < 0 {
		return "", 0, false
	}
	rest := target[idx+3:]
	end := strings.IndexAny(rest, "/?#")
	authority := rest
	if end >= 0 {
		authority = rest[:end]
	}
	if authority == "" {
		return "", 0, false
	}
	return splitHostPort(authority)
}

func splitHostPort(s string) (host string, port int, ok bool) {
	if s == "" {
		return "", 0, false
	}
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		portStr := s[idx+1:]
		if n, consumed, err := bstr.ParseUint([]byte(portStr), 10); err == nil && consumed == len(portStr) {
			return s[:idx], int(n), true
		}
	}
	return s, 0, true
}

// isValidHostnameChar 是 spec.md §4.5 所说的"保守的字符类" 字母数字及 . - _ [ ] :
func isValidHostnameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '.', '-', '_', '[', ']', ':':
		return true
	}
	return false
}

func isValidHostname(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isValidHostnameChar(s[i]) {
			return false
		}
	}
	return true
}

// resolveHost 按 spec.md §4.5 "Host resolution" 规则决定事务的有效请求主机名
//
// 优先级: URI 权威部分 > Host 头 > 都没有 两者都存在且大小写折叠后不一致时
// 置位 HOST_AMBIGUOUS HTTP/1.1 报文两者都缺失时置位 HOST_MISSING
func resolveHost(tx *Transaction, cfg *Config) {
	uriHost, uriPort, hasURI := extractURIAuthority(tx.Method, tx.RequestURIRaw)
	if hasURI && uriHost != "" && !isValidHostname(uriHost) {
		tx.Flags |= FlagHostURIInvalid
		hasURI = false
	}

	var headerHost string
	hasHeader := false
	if h, ok := tx.RequestHeaders.Get([]byte("Host")); ok {
		headerHost = strings.TrimSpace(h.Value)
		if headerHost != "" {
			hasHeader = true
			hostOnly, _, _ := splitHostPort(headerHost)
			if !isValidHostname(hostOnly) {
				tx.Flags |= FlagHostHeaderInvalid
				hasHeader = false
			}
		}
	}

	switch {
	case hasURI:
		tx.RequestHost = uriHost
		tx.RequestPort = uriPort
		if hasHeader {
			headerHostOnly, _, _ := splitHostPort(headerHost)
			if !strings.EqualFold(headerHostOnly, uriHost) {
				tx.Flags |= FlagHostAmbiguous
			}
		}
	case hasHeader:
		tx.RequestHost, tx.RequestPort, _ = splitHostPort(headerHost)
	default:
		if cfg.RequireHostHeader && isHTTP11(tx.Protocol) {
			tx.Flags |= FlagHostMissing
		}
	}
}

func isHTTP11(protocol string) bool {
	return strings.EqualFold(protocol, "HTTP/1.1")
}
