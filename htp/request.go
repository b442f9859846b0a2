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
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/htpguard/logger"
	"github.com/packetd/htpguard/multipart"
)

type reqState int

const (
	reqStateIdle reqState = iota
	reqStateLine
	reqStateHeaders
	reqStateBodyIdentity
	reqStateBodyChunked
	reqStateAwaitContinue
	reqStateComplete
)

// requestParserState 是请求方向(C6)的单线程协作式状态机
type requestParserState struct {
	state reqState

	lineAcc   *lineAccumulator
	headerAcc *foldedHeaderAccumulator

	tx *Transaction

	identityRemaining int64
	chunked           *chunkedDecoder

	multipartParser *multipart.Parser

	awaitedContinue bool
}

// FeedRequest 推进客户端到服务端方向的解析 data 是本次到达的字节块
func (c *Connection) FeedRequest(data []byte, now time.Time) Result {
	if c.Flags&FlagTunnel != 0 {
		return Ok()
	}

	rp := &c.req
	pos := 0
	for pos < len(data) {
		switch rp.state {
		case reqStateIdle:
			c.startRequestTransaction(now)
			rp.state = reqStateLine

		case reqStateLine:
			line, n, found := rp.lineAcc.feed(data[pos:])
			pos += n
			if !found {
				return NeedData()
			}
			content, nonCanon := stripLineEnding(line)
			if len(content) == 0 {
				// IDLE -> LINE 容忍开头的空行(裸 CR/LF) 继续等待真正的请求行
				continue
			}
			if nonCanon {
				rp.tx.Flags |= FlagLineEndingNonCanonical
			}
			if err := c.parseRequestLineInto(rp.tx, content); err != nil {
				return Failed(err)
			}
			c.Hooks.RequestLine.RunAll(rp.tx)
			c.normalizeRequestURI(rp.tx)
			c.Hooks.RequestURINormalize.RunAll(rp.tx)

			if rp.tx.Protocol == "" {
				rp.tx.IsHTTP09 = true
				if c.sawHTTP09 {
					c.Flags |= FlagHTTP09Extra
				}
				c.sawHTTP09 = true
				c.finishRequest(rp, now)
				continue
			}
			rp.headerAcc = newFoldedHeaderAccumulator()
			rp.state = reqStateHeaders

		case reqStateHeaders:
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
				rp.tx.RequestHeaders = rp.headerAcc.table
				resolveHost(rp.tx, c.Config)
				classifyAuth(rp.tx)
				rp.tx.RequestProgress = ProgressHeaders
				c.Hooks.RequestHeaders.RunAll(rp.tx)

				if !rp.awaitedContinue && expectsContinue(rp.tx) && rp.tx.ResponseProgress == ProgressNotStarted {
					rp.awaitedContinue = true
					rp.state = reqStateAwaitContinue
					return NeedOtherDirection()
				}

				if err := c.decideRequestBodyFraming(rp, now); err != nil {
					return Failed(err)
				}
			}

		case reqStateAwaitContinue:
			// 已经挂起过一次等待 100-continue 这里不再重新消费头部行
			// 直接推进到请求体成帧决策(一次性挂起 不会重复阻塞后续调用)
			if err := c.decideRequestBodyFraming(rp, now); err != nil {
				return Failed(err)
			}

		case reqStateBodyIdentity:
			avail := len(data) - pos
			take := avail
			if int64(take) > rp.identityRemaining {
				take = int(rp.identityRemaining)
			}
			if take > 0 {
				c.sinkRequestBody(rp.tx, data[pos:pos+take])
				pos += take
				rp.identityRemaining -= int64(take)
			}
			if rp.identityRemaining == 0 {
				c.finishRequest(rp, now)
			} else {
				return NeedData()
			}

		case reqStateBodyChunked:
			n, done, err := rp.chunked.step(data[pos:], func(b []byte) { c.sinkRequestBody(rp.tx, b) })
			pos += n
			if err != nil {
				return Failed(err)
			}
			if done {
				rp.chunked.release()
				c.Hooks.RequestTrailer.RunAll(rp.tx)
				c.finishRequest(rp, now)
			} else {
				return NeedData()
			}

		case reqStateComplete:
			rp.state = reqStateIdle
		}
	}
	if rp.state != reqStateIdle && rp.state != reqStateComplete {
		return NeedData()
	}
	return Ok()
}

func expectsContinue(tx *Transaction) bool {
	h, ok := tx.RequestHeaders.Get([]byte("Expect"))
	return ok && strings.EqualFold(strings.TrimSpace(h.Value), "100-continue")
}

func (c *Connection) startRequestTransaction(now time.Time) {
	tx := newTransaction(len(c.Transactions), now)
	if len(c.Transactions) > 0 {
		prev := c.Transactions[len(c.Transactions)-1]
		if !prev.ResponseComplete() {
			c.Flags |= FlagPipelined
		}
	}
	c.Transactions = append(c.Transactions, tx)
	c.req.tx = tx
	c.req.awaitedContinue = false
	tx.RequestProgress = ProgressLine
	c.Hooks.RequestStart.RunAll(tx)
}

func (c *Connection) parseRequestLineInto(tx *Transaction, line []byte) error {
	method, target, protocol := parseRequestLine(line)
	if method == "" {
		return errors.New("htp: empty request line")
	}
	tx.Method = method
	tx.RequestURIRaw = target
	tx.Protocol = protocol
	tx.IsConnect = strings.EqualFold(method, "CONNECT")
	return nil
}

func (c *Connection) normalizeRequestURI(tx *Transaction) {
	if rewritten, changed := rewriteEmptyAuthorityURI(tx.RequestURIRaw); changed {
		tx.RequestURIRaw = rewritten
		tx.Flags |= FlagURIRewritten
	}
}

// decideRequestBodyFraming 实现 spec.md §4.5 "Body framing decision"
func (c *Connection) decideRequestBodyFraming(rp *requestParserState, now time.Time) error {
	tx := rp.tx
	te, hasTE := tx.RequestHeaders.Get([]byte("Transfer-Encoding"))
	cl, hasCL := tx.RequestHeaders.Get([]byte("Content-Length"))

	chunked := hasTE && containsToken(te.Value, "chunked")

	if hasTE && hasCL {
		tx.Flags |= FlagRequestSmuggling
		logger.Debugf("htp: request %s carries both Transfer-Encoding and Content-Length, possible smuggling", tx.ID)
	}

	switch {
	case chunked:
		rp.chunked = newChunkedDecoder()
		tx.ReqBodyMode = BodyChunked
		rp.state = reqStateBodyChunked
		c.maybeStartMultipart(rp)
		return nil
	case hasCL:
		n, err := strconv.ParseInt(strings.TrimSpace(cl.Value), 10, 64)
		if err != nil || n < 0 {
			tx.Flags |= FlagRequestInvalidCL
			c.finishRequest(rp, now)
			return nil
		}
		tx.ReqBodyMode = BodyIdentity
		tx.RequestContentLength = n
		rp.identityRemaining = n
		if n == 0 {
			c.finishRequest(rp, now)
			return nil
		}
		rp.state = reqStateBodyIdentity
		c.maybeStartMultipart(rp)
		return nil
	default:
		tx.ReqBodyMode = BodyNone
		c.finishRequest(rp, now)
		return nil
	}
}

func (c *Connection) maybeStartMultipart(rp *requestParserState) {
	if !c.Config.ParseMultipart {
		return
	}
	ct, ok := rp.tx.RequestHeaders.Get([]byte("Content-Type"))
	if !ok || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct.Value)), "multipart/form-data") {
		return
	}
	boundary, ok := multipart.ExtractBoundary(ct.Value)
	if !ok {
		rp.tx.Flags |= FlagMultipartInvalid
		return
	}
	rp.multipartParser = multipart.NewParser(boundary, c.Config.Multipart)
}

func (c *Connection) sinkRequestBody(tx *Transaction, data []byte) {
	tx.RequestEntityLength += int64(len(data))
	if c.req.multipartParser != nil {
		_ = c.req.multipartParser.Write(data)
	}
	for _, chunk := range splitBounded(data, c.Config.MaxBodyChunkSize) {
		c.Hooks.RequestBodyData.RunAll(&DataEvent{Tx: tx, Data: chunk})
	}
}

func (c *Connection) finishRequest(rp *requestParserState, now time.Time) {
	tx := rp.tx
	if rp.multipartParser != nil {
		tx.MultipartBody = rp.multipartParser.Finalize()
		if tx.MultipartBody.Flags&multipart.FlagPartIncomplete != 0 {
			tx.Flags |= FlagPartIncomplete
		}
		rp.multipartParser = nil
	}
	tx.RequestProgress = ProgressComplete
	c.Hooks.RequestComplete.RunAll(tx)
	c.maybeCompleteTransaction(tx)
	rp.state = reqStateComplete
	_ = now
}

func containsToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// splitBounded 把 data 拆成若干不超过 max 字节的块 max<=0 表示不限制
func splitBounded(data []byte, max int) [][]byte {
	if max <= 0 || len(data) <= max {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := max
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}
