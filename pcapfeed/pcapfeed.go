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

// Package pcapfeed 把一个离线 pcap 文件转换成按 4 元组分组、按方向排序的
// TCP 字节流 仅供 cmd/htpguard replay 演示 htp.Connection 的消费接口
//
// 这不是 packetd 的 sniffer(那是实时抓包 需要 libpcap cgo 绑定 在本规范
// 中明确不在范围内 见 DESIGN.md) 而是复用 sniffer.go 里与抓包引擎无关的
// 那部分逻辑——以太网/IP 层剥离 TCP 载荷与四元组提取——重新应用到离线
// 读取的每一个 pcap 记录上 然后做"最小"重组: 按 Seq 排序同方向的分段
// 不处理重传去重/乱序窗口/RST 这些完整重组栈才需要关心的问题
package pcapfeed

import (
	"io"
	"sort"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/pkg/errors"

	"github.com/packetd/htpguard/common/socket"
	"github.com/packetd/htpguard/htp"
)

// Flow 是一条 TCP 连接上按方向分好组、按 Seq 排好序的完整字节流
type Flow struct {
	Tuple socket.Tuple // Client -> Server 方向的四元组

	// ClientSegments/ServerSegments 分别是两个方向上按 Seq 升序排列的分段
	// 重复 Payload 长度为 0 的分段(纯 ACK/SYN/FIN)已被过滤
	ClientSegments []socket.TCPSegment
	ServerSegments []socket.TCPSegment
}

// ReadFile 读取一个 pcap 文件 返回按 4 元组分组的全部 TCP 流
//
// "Client" 一侧被定义为该四元组第一次出现时的源地址 这是离线回放场景下
// 唯一可用的启发式(没有 SYN 状态可以依赖 —— 截取的 pcap 可能从连接中途开始)
func ReadFile(r io.Reader) ([]*Flow, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "pcapfeed: open pcap reader")
	}

	type flowKey socket.Tuple
	order := make([]flowKey, 0, 16)
	flows := make(map[flowKey]*Flow)

	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "pcapfeed: read packet")
		}

		seg := decodeTCPSegment(ci.Timestamp, data, reader.LinkType())
		if seg == nil || len(seg.Payload) == 0 {
			continue
		}

		fwdKey := flowKey(seg.Tuple)
		revKey := flowKey(seg.Tuple.Mirror())

		if f, ok := flows[revKey]; ok {
			f.ServerSegments = append(f.ServerSegments, *seg)
			continue
		}
		f, ok := flows[fwdKey]
		if !ok {
			f = &Flow{Tuple: seg.Tuple}
			flows[fwdKey] = f
			order = append(order, fwdKey)
		}
		f.ClientSegments = append(f.ClientSegments, *seg)
	}

	out := make([]*Flow, 0, len(order))
	for _, k := range order {
		f := flows[k]
		sortSegments(f.ClientSegments)
		sortSegments(f.ServerSegments)
		out = append(out, f)
	}
	return out, nil
}

func sortSegments(segs []socket.TCPSegment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
}

// Replay 把一条 Flow 的两个方向逐段喂给一个新建的 htp.Connection 每个 TCP
// 分段的载荷作为一次 Feed 调用 保留了原始抓包里的字节切分边界 —— 这正是
// htp 的 DATA/DATA_OTHER 挂起设计要应对的场景 而不是先把整条流拼成一个
// 大缓冲区再整体喂入
//
// 两个方向严格交替按时间戳推进: 每次都先喂时间戳更早的那一段 这是离线
// replay 场景下模拟真实到达顺序的最简单方式 不等价于内核的到达顺序
// (pcap 本身的时间戳精度/捕获点位置就决定了这只是一个近似)
func Replay(conn *htp.Connection, flow *Flow) {
	ci, si := 0, 0
	for ci < len(flow.ClientSegments) || si < len(flow.ServerSegments) {
		clientNext := ci < len(flow.ClientSegments)
		serverNext := si < len(flow.ServerSegments)
		takeClient := clientNext && (!serverNext || flow.ClientSegments[ci].Time.Before(flow.ServerSegments[si].Time))

		if takeClient {
			seg := flow.ClientSegments[ci]
			conn.FeedRequest(seg.Payload, seg.Time)
			ci++
		} else {
			seg := flow.ServerSegments[si]
			conn.FeedResponse(seg.Payload, seg.Time)
			si++
		}
	}
}

// decodeTCPSegment 剥离链路层/IP 层 提取 TCP 载荷与四元组 对应 sniffer.go
// 里 decodeIPLayer + parsePacket 的离线版本: 同样的"逐层剥离 只认 IPv4/
// IPv6/TCP"逻辑 但输入是 pcap 文件里已经带 LinkType 的一条记录 而不是
// 网卡递上来的裸以太帧 所以用 gopacket.NewPacket 按 linkType 一次性解出
// 全部层 而不是手写 decodeIPLayer 那样按 GOOS 试探 Loopback 封装
func decodeTCPSegment(ts time.Time, data []byte, linkType layers.LinkType) *socket.TCPSegment {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var srcIP, dstIP socket.IPV
	var haveIP bool
	if ipv4 := pkt.Layer(layers.LayerTypeIPv4); ipv4 != nil {
		l := ipv4.(*layers.IPv4)
		srcIP, dstIP = socket.ToIPV4(l.SrcIP), socket.ToIPV4(l.DstIP)
		haveIP = true
	} else if ipv6 := pkt.Layer(layers.LayerTypeIPv6); ipv6 != nil {
		l := ipv6.(*layers.IPv6)
		srcIP, dstIP = socket.ToIPV6(l.SrcIP), socket.ToIPV6(l.DstIP)
		haveIP = true
	}
	if !haveIP {
		return nil
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil
	}
	tcp := tcpLayer.(*layers.TCP)

	return &socket.TCPSegment{
		Time:    ts,
		Seq:     tcp.Seq,
		FIN:     tcp.FIN,
		Payload: tcp.Payload,
		Tuple: socket.Tuple{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: socket.Port(tcp.SrcPort),
			DstPort: socket.Port(tcp.DstPort),
		},
	}
}
