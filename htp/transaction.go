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
	"time"

	"github.com/google/uuid"

	"github.com/packetd/htpguard/multipart"
)

// Progress 标记一个方向(请求/响应)在某个事务上的解析进度
type Progress int

const (
	ProgressNotStarted Progress = iota
	ProgressLine
	ProgressHeaders
	ProgressBody
	ProgressTrailer
	ProgressComplete
)

// BodyMode 描述一个方向的请求体/响应体成帧方式
type BodyMode int

const (
	BodyNone BodyMode = iota
	BodyIdentity
	BodyChunked
	// BodyCloseDelimited 只用于响应方向: 没有长度信息 以连接关闭为边界
	BodyCloseDelimited
)

// AuthType 标识从 Authorization 头识别出的认证方案
type AuthType int

const (
	AuthNone AuthType = iota
	AuthBasic
	AuthUnrecognized
)

// Transaction 是一对请求/响应的完整解析状态 对应 spec.md §4.7 (C8)
type Transaction struct {
	ID    uuid.UUID
	Index int

	StartTime time.Time

	RequestProgress  Progress
	ResponseProgress Progress

	// --- 请求侧 ---
	Method        string
	RequestURIRaw string
	Protocol      string
	IsHTTP09      bool
	IsConnect     bool

	RequestHeaders *HeaderTable
	RequestHost    string
	RequestPort    int

	ReqBodyMode          BodyMode
	RequestContentLength int64
	RequestEntityLength  int64

	AuthType     AuthType
	AuthUsername string
	AuthPassword string

	MultipartBody *multipart.Body

	// --- 响应侧 ---
	StatusCode int
	StatusLine string
	Reason     string

	ResponseHeaders *HeaderTable

	RespBodyMode          BodyMode
	ResponseContentLength int64
	ResponseEntityLength  int64

	Flags TxFlags
}

func newTransaction(index int, now time.Time) *Transaction {
	return &Transaction{
		ID:               uuid.New(),
		Index:            index,
		StartTime:        now,
		RequestHeaders:   NewHeaderTable(),
		ResponseHeaders:  NewHeaderTable(),
		RequestProgress:  ProgressNotStarted,
		ResponseProgress: ProgressNotStarted,
	}
}

// RequestComplete 报告请求方向是否已经解析完毕
func (t *Transaction) RequestComplete() bool { return t.RequestProgress == ProgressComplete }

// ResponseComplete 报告响应方向是否已经解析完毕
func (t *Transaction) ResponseComplete() bool { return t.ResponseProgress == ProgressComplete }
