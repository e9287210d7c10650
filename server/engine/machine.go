package engine

import (
	"time"

	"github.com/Nikaoto/mimino/server/protocol"
)

// Responder builds responses, the engine only moves bytes.
type Responder interface {
	Respond(req *protocol.Request) *protocol.Response
	TooLarge() *protocol.Response
}

// Step advances c until it would block or reaches Closing.
// Each handler reports whether the machine should go round again.
func (e *Engine) Step(c *Conn, now time.Time) {
	for {
		var again bool
		switch c.State {
		case Reading:
			again = e.onReading(c, now)
		case WritingHeaders:
			again = e.onHeaders(c, now)
		case WritingBody:
			again = e.onBody(c, now)
		case WritingFinished:
			again = e.onFinished(c, now)
		default:
			return
		}
		if !again {
			return
		}
	}
}

func (e *Engine) onReading(c *Conn, now time.Time) bool {
	// pipelined leftovers may already hold a whole request
	if end := protocol.HeaderEnd(c.buf.Bytes(), c.scanned); end >= 0 {
		e.complete(c, end)
		return true
	}
	if !c.readable {
		return false
	}
	c.readable = false

	if c.buf.Full() {
		e.tooLarge(c)
		return true
	}

	n, res := e.readSome(c)
	switch res {
	case ioBlocked, ioFailed:
		return false
	}
	if n == 0 {
		c.eof = true
		if c.buf.Len() == 0 {
			c.fail(ReasonPeerClosed, nil)
			return false
		}
		c.Err = protocol.ErrIncomplete
		e.complete(c, c.buf.Len())
		return true
	}
	c.lastActive = now

	if end := protocol.HeaderEnd(c.buf.Bytes(), c.scanned); end >= 0 {
		e.complete(c, end)
		return true
	}
	c.scanned = max(0, c.buf.Len()-3)
	if c.buf.Full() {
		e.tooLarge(c)
		return true
	}
	return false
}

// complete parses buf[:end] as the current request
func (e *Engine) complete(c *Conn, end int) {
	raw := c.buf.Bytes()[:end]
	c.reqEnd = end
	c.Req = protocol.Parse(raw)
	c.keepAlive = c.Req.KeepAlive() && !c.eof

	if c.Req.Err != nil {
		if e.log.Debug().Enabled() {
			e.log.Debug().Int("fd", c.Fd).Err(c.Req.Err).Str("dump", asciiDump(raw)).Msg("parse error")
		}
		if !c.Req.Answerable() {
			c.fail(ReasonBadRequest, c.Req.Err)
			return
		}
	}
	c.State = WritingHeaders
}

func (e *Engine) tooLarge(c *Conn) {
	e.log.Debug().Int("fd", c.Fd).Int("size", c.buf.Len()).Msg("request too large")
	c.Resp = e.resp.TooLarge()
	c.reqEnd = c.buf.Len()
	c.keepAlive = false
	c.State = WritingHeaders
}

func (e *Engine) onHeaders(c *Conn, now time.Time) bool {
	if c.Resp == nil {
		c.Resp = e.resp.Respond(c.Req)
	}
	if c.Resp.Head == nil {
		if c.Resp.Close {
			c.keepAlive = false
		}
		if err := c.Resp.Seal(c.keepAlive); err != nil {
			c.fail(ReasonIOError, err)
			return false
		}
		if c.Req != nil {
			e.log.Debug().
				Int("fd", c.Fd).
				Str("method", c.Req.Method).
				Str("path", c.Req.Path).
				Int("status", c.Resp.Status).
				Int64("length", c.Resp.Body.Len()).
				Bool("keep_alive", c.keepAlive).
				Msg("response")
		}
	}

	switch e.writeHeaders(c) {
	case ioDone:
		c.lastActive = now
		if c.Req != nil && c.Req.IsHead() {
			c.State = WritingFinished
		} else {
			c.State = WritingBody
		}
		return true
	case ioPartial:
		c.lastActive = now
	}
	return false
}

func (e *Engine) onBody(c *Conn, now time.Time) bool {
	switch e.writeBody(c) {
	case ioDone:
		c.lastActive = now
		c.State = WritingFinished
		return true
	case ioMore:
		c.lastActive = now
		return true
	case ioPartial:
		c.lastActive = now
	}
	return false
}

func (e *Engine) onFinished(c *Conn, now time.Time) bool {
	e.stats.served.Add(1)
	if !c.keepAlive {
		c.fail(ReasonDone, c.Err)
		return false
	}
	c.recycle(e.lim, now)
	return true
}
