package engine

import (
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/server/buffer"
	"github.com/Nikaoto/mimino/server/protocol"
)

// State of a connection in the request/response cycle.
type State uint8

const (
	Reading State = iota
	WritingHeaders
	WritingBody
	WritingFinished
	Closing
)

func (s State) String() string {
	switch s {
	case Reading:
		return "reading"
	case WritingHeaders:
		return "writing_headers"
	case WritingBody:
		return "writing_body"
	case WritingFinished:
		return "writing_finished"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// Reason tells why a connection went to Closing.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonDone        // response sent, no keep-alive
	ReasonPeerClosed
	ReasonTimeout
	ReasonReadRetries
	ReasonWriteRetries
	ReasonIOError
	ReasonBadRequest // unanswerable request
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDone:
		return "done"
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonTimeout:
		return "timeout"
	case ReasonReadRetries:
		return "read_retries"
	case ReasonWriteRetries:
		return "write_retries"
	case ReasonIOError:
		return "io_error"
	case ReasonBadRequest:
		return "bad_request"
	case ReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Conn is one accepted client socket and everything it owns.
// Req and Resp live from the end of Reading until recycle or close.
type Conn struct {
	Fd     int
	Peer   netip.AddrPort
	State  State
	Reason Reason
	Err    error

	Req  *protocol.Request
	Resp *protocol.Response

	buf       *buffer.Buffer // raw request bytes, limited to MaxRequestSize
	scanned   int            // HeaderEnd resumes from here
	reqEnd    int            // end of the current request in buf
	eof       bool           // peer shut down its side
	readable  bool           // poll reported input, one read allowed
	keepAlive bool

	readLeft   int
	writeLeft  int
	lastActive time.Time
	closed     bool
}

func newConn(fd int, peer netip.AddrPort, lim Limits, now time.Time) *Conn {
	return &Conn{
		Fd:         fd,
		Peer:       peer,
		buf:        buffer.NewLimited(min(buffer.Growth, lim.MaxRequestSize), lim.MaxRequestSize),
		readLeft:   lim.ReadRetries,
		writeLeft:  lim.WriteRetries,
		lastActive: now,
	}
}

// Buffered returns the raw bytes read and not yet consumed.
func (c *Conn) Buffered() []byte { return c.buf.Bytes() }

// Idle reports how long the connection has made no progress.
func (c *Conn) Idle(now time.Time) time.Duration { return now.Sub(c.lastActive) }

// fail moves the connection to Closing
func (c *Conn) fail(reason Reason, err error) {
	c.State = Closing
	c.Reason = reason
	c.Err = err
}

// release drops the request and the response, closing any open body file.
// Calling it again is a no-op.
func (c *Conn) release() {
	if c.Resp != nil {
		c.Resp.Release()
		c.Resp = nil
	}
	c.Req = nil
}

// recycle prepares the connection for the next request.
// Bytes after the finished request stay in the buffer as the start of the next one.
func (c *Conn) recycle(lim Limits, now time.Time) {
	c.release()

	raw := c.buf.Bytes()
	n := copy(raw, raw[c.reqEnd:])
	c.buf.Reset()
	c.buf.Advance(n)

	c.State = Reading
	c.Reason = ReasonNone
	c.Err = nil
	c.scanned = 0
	c.reqEnd = 0
	c.keepAlive = false
	c.readLeft = lim.ReadRetries
	c.writeLeft = lim.WriteRetries
	c.lastActive = now
}

// close releases everything and closes the socket exactly once.
func (c *Conn) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.release()
	c.State = Closing
	return unix.Close(c.Fd)
}
