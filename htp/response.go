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
	"compress/flate"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/packetd/htpguard/bufpool"
	"github.com/packetd/htpguard/logger"
)

type respState int

const (
	respStateAwaitingTx respState = iota
	respStateLine
	respStateHeaders
	respStateBodyIdentity
	respStateBodyChunked
	respStateBodyCloseDelimited
	respStateComplete
)

// responseParserState 是响应方向(C7)的单线程协作式状态机
type responseParserState struct {
	state respState

	lineAcc   *lineAccumulator
	headerAcc *foldedHeaderAccumulator

	tx *Transaction

	identityRemaining int64
	chunked           *chunkedDecoder

	rawBody *bufferedBody // 仅当需要解压时才非 nil 用于在响应体结束后一次性解码
}

type bufferedBody struct {
	buf      *bytebufferpool.ByteBuffer
	encoding string
}

// FeedResponse 推进服务端到客户端方向的解析 data 是本次到达的字节块
func (c *Connection) FeedResponse(data []byte, now time.Time) Result {
	if c.Flags&FlagTunnel != 0 {
		return Ok()
	}

	rp := &c.resp
	pos := 0
	for pos < len(data) {
		switch rp.state {
		case respStateAwaitingTx:
			tx := c.pendingResponseTx()
			if tx == nil {
				return NeedOtherDirection()
			}
			rp.tx = tx
			tx.ResponseProgress = ProgressLine
			c.Hooks.ResponseStart.RunAll(tx)
			rp.state = respStateLine

		case respStateLine:
			line, n, found := rp.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return NeedData()
			}
			content, nonCanon := stripLineEnding(line)
			if nonCanon && len(content) > 0 {
				rp.tx.Flags |= FlagLineEndingNonCanonical
			}
			proto, status, reason, ok := parseStatusLine(content)
			if !ok {
				// HTTP/0.9: 没有可识别的状态行 这一整行其实已经是正文的一部分
				// (不是被丢弃的状态行) 所以原样喂给 body sink 而不是丢弃
				rp.tx.Protocol = ""
				rp.tx.StatusCode = 0
				c.Hooks.ResponseLine.RunAll(rp.tx)
				rp.tx.ResponseHeaders = NewHeaderTable()
				c.Hooks.ResponseHeaders.RunAll(rp.tx)
				rp.state = respStateBodyCloseDelimited
				c.sinkResponseBody(rp, line)
				continue
			}
			rp.tx.Protocol = proto
			rp.tx.StatusCode = status
			rp.tx.Reason = reason
			rp.tx.StatusLine = string(content)
			c.Hooks.ResponseLine.RunAll(rp.tx)
			rp.headerAcc = newFoldedHeaderAccumulator()
			rp.state = respStateHeaders

		case respStateHeaders:
			line, n, found := rp.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return NeedData()
			}
			content, nonCanon := stripLineEnding(line)
			if nonCanon && len(content) > 0 {
				rp.tx.Flags |= FlagLineEndingNonCanonical
			}
			if blank := rp.headerAcc.addLine(content); blank {
				rp.tx.ResponseHeaders = rp.headerAcc.table
				c.Hooks.ResponseHeaders.RunAll(rp.tx)

				if rp.tx.StatusCode >= 100 && rp.tx.StatusCode < 200 {
					// 临时响应: 消费完头部后回到等待同一事务最终响应的状态
					rp.state = respStateLine
					continue
				}

				if err := c.decideResponseBodyFraming(rp, now); err != nil {
					return Failed(err)
				}
			}

		case respStateBodyIdentity:
			avail := len(data) - pos
			take := avail
			if int64(take) > rp.identityRemaining {
				take = int(rp.identityRemaining)
			}
			if take > 0 {
				c.sinkResponseBody(rp, data[pos:pos+take])
				pos += take
				rp.identityRemaining -= int64(take)
			}
			if rp.identityRemaining == 0 {
				c.finishResponse(rp, now)
			} else {
				return NeedData()
			}

		case respStateBodyChunked:
			n, done, err := rp.chunked.step(data[pos:], func(b []byte) { c.sinkResponseBody(rp, b) })
			pos += n
			if err != nil {
				return Failed(err)
			}
			if done {
				rp.chunked.release()
				c.Hooks.ResponseTrailer.RunAll(rp.tx)
				c.finishResponse(rp, now)
			} else {
				return NeedData()
			}

		case respStateBodyCloseDelimited:
			if pos < len(data) {
				c.sinkResponseBody(rp, data[pos:])
				pos = len(data)
			}
			return Ok()

		case respStateComplete:
			rp.state = respStateAwaitingTx
		}
	}
	return Ok()
}

// CloseResponse 通知解析器服务端方向的字节流已经结束(连接关闭)
// 仅对 close-delimited 成帧的响应体有意义: 此前没有任何方式能判断 body 结束
func (c *Connection) CloseResponse(now time.Time) Result {
	rp := &c.resp
	if rp.state == respStateBodyCloseDelimited {
		c.finishResponse(rp, now)
		return Ok()
	}
	return Ok()
}

// pendingResponseTx 返回最早尚未完成响应解析的事务 对应 spec.md §4.7
// "The response parser always operates on the earliest-pending transaction"
func (c *Connection) pendingResponseTx() *Transaction {
	for i := c.respCursor; i < len(c.Transactions); i++ {
		tx := c.Transactions[i]
		// 响应成帧依赖请求方法(HEAD/CONNECT) 而方法在请求行阶段就已知
		// 不需要等待整个请求体解析完成 只要求方法已经被观测到
		if tx.Method == "" {
			continue
		}
		if !tx.ResponseComplete() {
			return tx
		}
	}
	return nil
}

func parseStatusLine(line []byte) (protocol string, status int, reason string, ok bool) {
	fields := bytes.SplitN(line, []byte(" "), 3)
	if len(fields) < 2 {
		return "", 0, "", false
	}
	if !isHTTPVersionToken(string(fields[0])) {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(string(fields[1]))
	if err != nil || n < 100 || n > 599 {
		return "", 0, "", false
	}
	r := ""
	if len(fields) == 3 {
		r = string(fields[2])
	}
	return string(fields[0]), n, r, true
}

// decideResponseBodyFraming 实现 spec.md §4.6 "Body framing for responses"
func (c *Connection) decideResponseBodyFraming(rp *responseParserState, now time.Time) error {
	tx := rp.tx

	if tx.IsConnect && tx.StatusCode/100 == 2 {
		c.Flags |= FlagTunnel
		c.finishResponse(rp, now)
		return nil
	}

	noBody := strings.EqualFold(tx.Method, "HEAD") ||
		(tx.StatusCode >= 100 && tx.StatusCode < 200) ||
		tx.StatusCode == 204 || tx.StatusCode == 304
	if noBody {
		tx.RespBodyMode = BodyNone
		c.finishResponse(rp, now)
		return nil
	}

	if enc, ok := tx.ResponseHeaders.Get([]byte("Content-Encoding")); ok && c.Config.DecompressResponseBody {
		low := strings.ToLower(strings.TrimSpace(enc.Value))
		if low == "gzip" || low == "deflate" {
			rp.rawBody = &bufferedBody{buf: bufpool.Acquire(), encoding: low}
		}
	}

	te, hasTE := tx.ResponseHeaders.Get([]byte("Transfer-Encoding"))
	cl, hasCL := tx.ResponseHeaders.Get([]byte("Content-Length"))

	switch {
	case hasTE && containsToken(te.Value, "chunked"):
		rp.chunked = newChunkedDecoder()
		tx.RespBodyMode = BodyChunked
		rp.state = respStateBodyChunked
	case hasCL:
		n, err := strconv.ParseInt(strings.TrimSpace(cl.Value), 10, 64)
		if err != nil || n < 0 {
			tx.RespBodyMode = BodyCloseDelimited
			rp.state = respStateBodyCloseDelimited
			return nil
		}
		tx.RespBodyMode = BodyIdentity
		tx.ResponseContentLength = n
		rp.identityRemaining = n
		if n == 0 {
			c.finishResponse(rp, now)
			return nil
		}
		rp.state = respStateBodyIdentity
	default:
		tx.RespBodyMode = BodyCloseDelimited
		rp.state = respStateBodyCloseDelimited
	}
	return nil
}

func (c *Connection) sinkResponseBody(rp *responseParserState, data []byte) {
	tx := rp.tx
	if rp.rawBody != nil {
		rp.rawBody.buf.Write(data)
		return
	}
	tx.ResponseEntityLength += int64(len(data))
	for _, chunk := range splitBounded(data, c.Config.MaxBodyChunkSize) {
		c.Hooks.ResponseBodyData.RunAll(&DataEvent{Tx: tx, Data: chunk})
	}
}

func (c *Connection) finishResponse(rp *responseParserState, now time.Time) {
	tx := rp.tx
	if rp.rawBody != nil {
		decoded, err := decompressBody(rp.rawBody.encoding, rp.rawBody.buf.Bytes())
		if err != nil {
			tx.Flags |= FlagDecompressionFailed
			logger.Warnf("htp: response %s decompression (%s) failed, falling back to raw body: %v", tx.ID, rp.rawBody.encoding, err)
			decoded = rp.rawBody.buf.Bytes()
		}
		tx.ResponseEntityLength = int64(len(decoded))
		for _, chunk := range splitBounded(decoded, c.Config.MaxBodyChunkSize) {
			c.Hooks.ResponseBodyData.RunAll(&DataEvent{Tx: tx, Data: chunk})
		}
		bufpool.Release(rp.rawBody.buf)
		rp.rawBody = nil
	}
	tx.ResponseProgress = ProgressComplete
	c.Hooks.ResponseComplete.RunAll(tx)
	c.maybeCompleteTransaction(tx)
	if c.respCursor < len(c.Transactions) && c.Transactions[c.respCursor] == tx {
		c.respCursor++
	}
	rp.state = respStateComplete
	_ = now
}

func decompressBody(encoding string, raw []byte) ([]byte, error) {
	switch encoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "htp: gzip header")
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return raw, nil
	}
}
