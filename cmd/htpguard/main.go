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

// Command htpguard 是本解析核心的离线演示消费者
//
// 两个子命令对应 spec.md §6 的消费接口: replay 把一个离线 pcap 文件重放进
// htp.Connection 并归档每一笔完成的事务 serve 启动一个暴露 /healthz 与
// /metrics 的调试服务器 两者都不是常驻 agent(那部分编排逻辑 —— 配置热
// 加载/多协议调度/多路 sinker —— 明确不在本规范范围内 见 DESIGN.md)
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/packetd/htpguard/archive"
	"github.com/packetd/htpguard/hooks"
	"github.com/packetd/htpguard/htp"
	"github.com/packetd/htpguard/logger"
	"github.com/packetd/htpguard/metrics"
	"github.com/packetd/htpguard/pcapfeed"
	"github.com/packetd/htpguard/server"
)

func init() {
	// 容器化部署下按 cgroup CPU 配额而不是宿主机全部核心数设置 GOMAXPROCS
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warnf("failed to set GOMAXPROCS: %v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "htpguard",
	Short: "High-assurance HTTP message parser core for traffic inspection gateways",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	replayArchivePath string
	replayConsole     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <pcap-file>",
	Short: "Replay an offline pcap capture through the HTTP parser core",
	Args:  cobra.ExactArgs(1),
	Example: "  htpguard replay capture.pcap --archive out.jsonl",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		flows, err := pcapfeed.ReadFile(f)
		if err != nil {
			return err
		}

		collector := metrics.NewCollector(prometheus.NewRegistry())
		w := archive.NewWriter(archive.Config{Filename: replayArchivePath, Console: replayConsole})
		defer w.Close()

		for _, flow := range flows {
			cfg := htp.DefaultConfig()
			hks := htp.NewHooks()
			collector.Attach(hks)
			hks.TransactionComplete.Register(func(tx *htp.Transaction) hooks.Result {
				if err := w.WriteTransaction(tx); err != nil {
					logger.Warnf("failed to archive transaction %s: %v", tx.ID, err)
				}
				return hooks.OK
			})

			conn := htp.NewConnection(&cfg, hks)
			pcapfeed.Replay(conn, flow)
			conn.Close()
			collector.AttachConn(conn.Flags)
		}

		logger.Infof("replayed %d flow(s) from %s", len(flows), args[0])
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayArchivePath, "archive", "htpguard-replay.jsonl", "Archive output file path")
	replayCmd.Flags().BoolVar(&replayConsole, "console", false, "Write archive records to stdout instead of a file")
	rootCmd.AddCommand(replayCmd)
}

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the debug/metrics HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		metrics.NewCollector(reg)

		srv := server.New(server.Config{Enabled: true, Address: serveAddress})
		srv.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
			promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		})
		return srv.ListenAndServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", ":8080", "Listen address for the debug server")
	rootCmd.AddCommand(serveCmd)
}
