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

	"github.com/packetd/htpguard/b64"
)

// decodeBasicAuth 解析 "Authorization: Basic <base64>" 头 拆分出用户名/密码
//
// 使用 b64.DecodeAll 而不是 encoding/base64 以便在 padding 缺失/含非法字符
// 时仍沿用 b64 包跳过非法字符的宽松容错策略
func decodeBasicAuth(value string) (username, password string, ok bool) {
	const prefix = "basic "
	if len(value) < len(prefix) || !strings.EqualFold(value[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded := b64.DecodeAll([]byte(strings.TrimSpace(value[len(prefix):])))
	idx := bytes.IndexByte(decoded, ':')
	if idx < 0 {
		return string(decoded), "", true
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), true
}

// classifyAuth 检查 Authorization 头并填充事务的认证字段
func classifyAuth(tx *Transaction) {
	h, ok := tx.RequestHeaders.Get([]byte("Authorization"))
	if !ok {
		return
	}
	if user, pass, ok := decodeBasicAuth(h.Value); ok {
		tx.AuthType = AuthBasic
		tx.AuthUsername = user
		tx.AuthPassword = pass
		return
	}
	tx.AuthType = AuthUnrecognized
}
