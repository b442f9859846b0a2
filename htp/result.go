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

import "github.com/packetd/htpguard/logger"

// Status 是单线程协作式状态机每次 Feed 调用后的悬挂原因
// 对应 spec.md §4.5 数据推进函数的返回值集合
type Status int

const (
	// StatusOK 本次调用传入的数据已全部消费 解析器处于稳定状态
	StatusOK Status = iota
	// StatusData 输入在某个词法单元中间耗尽 调用方需在同一方向上补充数据
	StatusData
	// StatusDataOther 当前方向在看到另一方向之前无法继续推进
	// (例如 Expect:100-continue 下请求体的成帧依赖响应 或响应成帧依赖已知的请求方法)
	StatusDataOther
	// StatusError 发生了不可恢复的报文损坏 该方向不再接受输入
	StatusError
	// StatusStop 调用方请求的优雅终止
	StatusStop
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusData:
		return "DATA"
	case StatusDataOther:
		return "DATA_OTHER"
	case StatusError:
		return "ERROR"
	case StatusStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Result 是每次 Feed 调用的返回值 Err 仅在 Status 为 StatusError 时有意义
type Result struct {
	Status Status
	Err    error
}

// Ok 是 Result{Status: StatusOK} 的简写构造
func Ok() Result { return Result{Status: StatusOK} }

// NeedData 是 Result{Status: StatusData} 的简写构造
func NeedData() Result { return Result{Status: StatusData} }

// NeedOtherDirection 是 Result{Status: StatusDataOther} 的简写构造
func NeedOtherDirection() Result { return Result{Status: StatusDataOther} }

// Stopped 是 Result{Status: StatusStop} 的简写构造
func Stopped() Result { return Result{Status: StatusStop} }

// Failed 用给定错误包装为 Result{Status: StatusError} 并以 Warn 级别记录
// 这次成帧失败 所有 STATUS_ERROR 构造都经过这里 是唯一的日志接入点
func Failed(err error) Result {
	logger.Warnf("htp: framing failure, connection no longer parseable: %v", err)
	return Result{Status: StatusError, Err: err}
}
