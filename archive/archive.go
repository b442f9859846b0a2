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

// Package archive 把解析完成的事务写到一个换行分隔的 JSON 归档文件里 供
// 离线回放/审计使用
//
// 移植自 packetd 的 exporter/sinker/roundtrips: 同样是"一个 io.WriteCloser
// 加一个逐条编码器"的形状 这里把可插拔的 exporter.Sinker 注册表换成一个
// 直接可用的 Writer 因为这个包只服务 cmd/htpguard replay 这一个消费者
// 不需要整套 Sinker 注册/Config 热加载机制(那一层连同 controller/pipeline
// 一起被判定为超出本规范范围 见 DESIGN.md)
package archive

import (
	"io"
	"os"

	"github.com/golang/snappy"
	json "github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/packetd/htpguard/htp"
)

// Config 控制归档输出的落盘方式
type Config struct {
	// Filename 目标文件路径 为空且 Console 为假时落盘到 Filename 的默认值无效 必须指定
	Filename string
	// Console 为真时写到标准输出 忽略 Filename/MaxSize 等滚动参数
	Console bool
	// MaxSizeMB 单个归档文件的最大大小(MB) 超出后滚动 0 使用 lumberjack 默认值
	MaxSizeMB int
	// MaxBackups 保留的历史滚动文件数量 0 表示不限制
	MaxBackups int
	// CompressFiles 为真时对落盘的 multipart 文件正文做 snappy 压缩 记录里写入压缩后文件的路径
	CompressFiles bool
}

// Record 是归档文件里一行 JSON 对应的结构 字段命名直接对应 htp.Transaction
// 的请求/响应双侧视图 而不是整个内部状态机细节
type Record struct {
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
	URI           string `json:"uri"`
	Protocol      string `json:"protocol"`
	Host          string `json:"host"`
	StatusCode    int    `json:"status_code"`
	ReqBodyLength int64  `json:"request_body_length"`
	RespBodyLength int64 `json:"response_body_length"`
	Flags         uint32 `json:"flags"`
	MultipartFiles []string `json:"multipart_files,omitempty"`
}

// Writer 把完成的事务序列化为换行分隔的 JSON 并写入底层 sink
type Writer struct {
	wr      io.WriteCloser
	encoder *json.Encoder
	cfg     Config
}

// NewWriter 按 cfg 打开一个归档写入器
func NewWriter(cfg Config) *Writer {
	var wr io.WriteCloser
	switch {
	case cfg.Console:
		wr = os.Stdout
	default:
		wr = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		}
	}
	return &Writer{wr: wr, cfg: cfg, encoder: json.NewEncoder(wr)}
}

// WriteTransaction 归档一个已完成的事务 对尚未完成任一方向的事务调用没有意义
// 但不会返回错误(调用方应当只在 TransactionComplete 钩子里调用)
func (w *Writer) WriteTransaction(tx *htp.Transaction) error {
	rec := Record{
		TransactionID:  tx.ID.String(),
		Method:         tx.Method,
		URI:            tx.RequestURIRaw,
		Protocol:       tx.Protocol,
		Host:           tx.RequestHost,
		StatusCode:     tx.StatusCode,
		ReqBodyLength:  tx.RequestEntityLength,
		RespBodyLength: tx.ResponseEntityLength,
		Flags:          uint32(tx.Flags),
	}
	if tx.MultipartBody != nil {
		for _, part := range tx.MultipartBody.Parts {
			if part.TempFilePath != "" {
				p := part.TempFilePath
				if w.cfg.CompressFiles {
					compressed, err := CompressFile(p)
					if err != nil {
						return err
					}
					p = compressed
				}
				rec.MultipartFiles = append(rec.MultipartFiles, p)
			}
		}
	}
	return w.encoder.Encode(rec)
}

// Close 刷新并关闭底层 sink
func (w *Writer) Close() error {
	return w.wr.Close()
}

// CompressFile 把 path 处的文件原地压缩为 snappy 帧格式 另存为 path+".snappy"
// 源文件保留 调用方负责按需清理 用于归档 multipart 提取出的大文件正文 避免
// JSON 记录里重复携带一份已经落盘的字节
func CompressFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	compressed := snappy.Encode(nil, raw)
	dst := path + ".snappy"
	if err := os.WriteFile(dst, compressed, 0o600); err != nil {
		return "", err
	}
	return dst, nil
}
