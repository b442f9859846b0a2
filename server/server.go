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

// Package server 提供 cmd/htpguard serve 用到的调试/指标 HTTP 服务
//
// 移植自 packetd 的 server/server.go: 同样是一个瘦包装——net/http.Server 加
// gorilla/mux 路由——这里把原版面向 pprof 调试端点的路由表换成 /healthz 与
// Prometheus /metrics(由调用方通过 RegisterGetRoute 接入 promhttp.Handler)
// 因为这个网关是一个解析核心库 不是常驻 agent 不需要 pprof 路由表
package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/packetd/htpguard/logger"
)

// Config 控制调试服务器的监听行为
type Config struct {
	Enabled bool          `config:"enabled"`
	Address string        `config:"address"`
	Timeout time.Duration `config:"timeout"`
}

// Server 是一个极简的 gorilla/mux 路由 + net/http.Server 包装
type Server struct {
	config Config
	router *mux.Router
	server *http.Server
}

// New 创建一个 Server 并注册 /healthz 路由 .Enabled 为假时返回空指针
func New(cfg Config) *Server {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	router := mux.NewRouter()
	s := &Server{
		config: cfg,
		router: router,
		server: &http.Server{
			Handler:      router,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
	}
	s.RegisterGetRoute("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return s
}

// ListenAndServe 阻塞式启动服务器 调用方通常在一个独立 goroutine 里调用
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	logger.Infof("debug server listening on %s", s.config.Address)
	return s.server.Serve(l)
}

// RegisterGetRoute 注册一个 GET 路由 供 cmd/htpguard 接入 promhttp.Handler
func (s *Server) RegisterGetRoute(path string, f http.HandlerFunc) {
	s.router.Methods(http.MethodGet).Path(path).HandlerFunc(f)
}

// Close 立即关闭底层 http.Server 的监听器与所有连接
func (s *Server) Close() error {
	return s.server.Close()
}
