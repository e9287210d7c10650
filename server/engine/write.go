package engine

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/server/protocol"
)

// ioResult is what one budgeted I/O attempt did
type ioResult uint8

const (
	ioDone    ioResult = iota // everything asked for went through
	ioMore                    // a full piece went through and more is left
	ioPartial                 // some bytes moved, try again when poll says so
	ioBlocked                 // nothing moved, budget charged
	ioFailed                  // conn is Closing
)

func retryable(err error) bool {
	return err == unix.EAGAIN || err == unix.EINTR
}

// readSome does one read into the spare capacity of the request buffer.
// n == 0 with ioDone means the peer closed its side.
func (e *Engine) readSome(c *Conn) (int, ioResult) {
	spare, err := c.buf.Spare()
	if err != nil {
		c.fail(ReasonIOError, err)
		return 0, ioFailed
	}
	n, err := unix.Read(c.Fd, spare)
	switch {
	case err != nil && retryable(err):
		c.readLeft--
		if c.readLeft <= 0 {
			c.fail(ReasonReadRetries, ErrReadRetries)
			return 0, ioFailed
		}
		return 0, ioBlocked
	case err != nil:
		c.fail(ReasonIOError, fmt.Errorf("read: %w", err))
		return 0, ioFailed
	}
	c.buf.Advance(n)
	return n, ioDone
}

// writeSome writes p once. The returned count is what the socket took.
func (e *Engine) writeSome(c *Conn, p []byte) (int, ioResult) {
	n, err := unix.Write(c.Fd, p)
	switch {
	case err != nil && retryable(err), err == nil && n == 0 && len(p) > 0:
		c.writeLeft--
		if c.writeLeft <= 0 {
			c.fail(ReasonWriteRetries, ErrWriteRetries)
			return 0, ioFailed
		}
		return 0, ioBlocked
	case err != nil:
		c.fail(ReasonIOError, fmt.Errorf("write: %w", err))
		return 0, ioFailed
	case n < len(p):
		return n, ioPartial
	}
	return n, ioDone
}

// writeHeaders sends what is left of the header block.
func (e *Engine) writeHeaders(c *Conn) ioResult {
	n, res := e.writeSome(c, c.Resp.HeadRest())
	c.Resp.HeadSent += n
	return res
}

// writeBody sends one piece of the body: the rest of an in-memory body,
// or at most one chunk of a file range starting at the cursor.
func (e *Engine) writeBody(c *Conn) ioResult {
	switch body := c.Resp.Body.(type) {
	case *protocol.MemBody:
		rest := body.Rest()
		if len(rest) == 0 {
			return ioDone
		}
		n, res := e.writeSome(c, rest)
		body.Sent += n
		return res

	case *protocol.FileBody:
		if body.Done() {
			return ioDone
		}
		chunk := e.chunks.get()
		defer e.chunks.put(chunk)

		want := min(int64(len(*chunk)), body.End-body.Cursor+1)
		piece := (*chunk)[:want]
		r, err := body.File.ReadAt(piece, body.Cursor)
		if r == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				err = ErrTruncated
			}
			c.fail(ReasonIOError, fmt.Errorf("read %s: %w", body.File.Name(), err))
			return ioFailed
		}
		n, res := e.writeSome(c, piece[:r])
		body.Cursor += int64(n)
		if res == ioDone && !body.Done() {
			return ioMore
		}
		return res
	}

	c.fail(ReasonIOError, fmt.Errorf("unknown body %T", c.Resp.Body))
	return ioFailed
}
