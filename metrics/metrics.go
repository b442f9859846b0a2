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

// Package metrics 暴露网关运行时的 Prometheus 指标
//
// 核心的 htp/uri/multipart 包从不直接引用本包 —— 指标的接入点永远是
// cmd/htpguard replay 注册的钩子回调 和 protocol/phttp 把解析核心和
// exporter 解耦的方式一致 只是这里的"exporter"换成了 client_golang
// 的 Registry
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/htpguard/hooks"
	"github.com/packetd/htpguard/htp"
)

// Collector 汇集了网关对外暴露的全部计数器/直方图
type Collector struct {
	TransactionsTotal  *prometheus.CounterVec
	ParseFlagsTotal    *prometheus.CounterVec
	ParseErrorsTotal   prometheus.Counter
	FilesExtractedTotal prometheus.Counter
	RequestBodyBytes   prometheus.Histogram
	ResponseBodyBytes  prometheus.Histogram
}

// NewCollector 在给定的 registerer 上注册并返回一组新指标
//
// reg 为 nil 时使用 prometheus.DefaultRegisterer(cmd/htpguard 的两个子命令
// 都传入各自新建的 Registry)
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "htpguard_transactions_total",
			Help: "Number of HTTP transactions fully parsed, by request method.",
		}, []string{"method"}),
		ParseFlagsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "htpguard_parse_flags_total",
			Help: "Number of times a deviation flag was raised during parsing.",
		}, []string{"flag"}),
		ParseErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "htpguard_parse_errors_total",
			Help: "Number of unrecoverable parse errors (STATUS_ERROR) observed.",
		}),
		FilesExtractedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "htpguard_multipart_files_extracted_total",
			Help: "Number of multipart file parts materialized to a temp file.",
		}),
		RequestBodyBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "htpguard_request_body_bytes",
			Help:    "Size distribution of completed request bodies.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		ResponseBodyBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "htpguard_response_body_bytes",
			Help:    "Size distribution of completed response bodies (post-decompression).",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
	}
}

// FlagNames enumerate 了会被计入 ParseFlagsTotal 的标记名称 供钩子回调按位
// 拆解 htp.TxFlags/htp.ConnFlags 时统一命名
const (
	FlagHostAmbiguous       = "host_ambiguous"
	FlagHostMissing         = "host_missing"
	FlagURIRewritten        = "uri_rewritten"
	FlagRequestSmuggling    = "request_smuggling"
	FlagRequestInvalidCL    = "request_invalid_content_length"
	FlagLineEndingNonCanon  = "line_ending_non_canonical"
	FlagDecompressionFailed = "decompression_failed"
	FlagPartIncomplete      = "multipart_part_incomplete"
	FlagMultipartInvalid    = "multipart_invalid"
	FlagPipelined           = "pipelined"
	FlagTunnel              = "tunnel"
	FlagHTTP09Extra         = "http09_extra"
)

// txFlagNames 按位顺序列出 TxFlags 的计数名称 与 htp/flags.go 中的声明顺序一致
var txFlagNames = []string{
	FlagRequestSmuggling,
	FlagRequestInvalidCL,
	FlagHostAmbiguous,
	FlagHostMissing,
	"host_header_invalid",
	"host_uri_invalid",
	FlagLineEndingNonCanon,
	FlagURIRewritten,
	FlagDecompressionFailed,
	FlagMultipartInvalid,
	FlagPartIncomplete,
}

// connFlagNames 按位顺序列出 ConnFlags 的计数名称
var connFlagNames = []string{
	FlagPipelined,
	FlagHTTP09Extra,
	FlagTunnel,
}

// Attach 把 Collector 挂接到一组 htp 钩子上: 事务完成时按观测到的标记位
// 增加 ParseFlagsTotal 计数 完成的请求/响应体大小计入直方图 落盘的 multipart
// 文件计入 FilesExtractedTotal htp 核心包本身从不导入 metrics —— 接入点
// 永远在这里 由调用方(cmd/htpguard replay)决定是否启用
func (c *Collector) Attach(h *htp.Hooks) {
	h.TransactionComplete.Register(func(tx *htp.Transaction) hooks.Result {
		c.TransactionsTotal.WithLabelValues(tx.Method).Inc()
		for i, name := range txFlagNames {
			if tx.Flags&(htp.TxFlags(1)<<uint(i)) != 0 {
				c.ParseFlagsTotal.WithLabelValues(name).Inc()
			}
		}
		c.RequestBodyBytes.Observe(float64(tx.RequestEntityLength))
		c.ResponseBodyBytes.Observe(float64(tx.ResponseEntityLength))
		if tx.MultipartBody != nil {
			for _, part := range tx.MultipartBody.Parts {
				if part.TempFilePath != "" {
					c.FilesExtractedTotal.Inc()
				}
			}
		}
		return hooks.OK
	})
}

// AttachConn 记录连接级别的标记(管线化/隧道/HTTP-0.9 重复) 由调用方在
// CONNECT 隧道建立 或连接关闭时手动调用一次 因为这些标记没有独立的钩子点
// (它们是 Connection.Flags 上的聚合位 不是某一次 RunAll 触发的事件)
func (c *Collector) AttachConn(flags htp.ConnFlags) {
	for i, name := range connFlagNames {
		if flags&(htp.ConnFlags(1)<<uint(i)) != 0 {
			c.ParseFlagsTotal.WithLabelValues(name).Inc()
		}
	}
}
