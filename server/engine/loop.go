// single-threaded poll(2) event loop over a dense connection table
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/internal/sock"
)

// Limits bound what the loop and each connection may use.
type Limits struct {
	MaxConns       int // client slots, the listener is not counted
	IdleTimeout    time.Duration
	PollTimeout    time.Duration
	ReadRetries    int
	WriteRetries   int
	MaxRequestSize int
	ChunkSize      int
	SendBuffer     int // SO_SNDBUF of accepted sockets
}

// DefaultLimits are used for every zero field of the Limits given to New.
var DefaultLimits = Limits{
	MaxConns:       sock.FallbackMaxFds,
	IdleTimeout:    30 * time.Second,
	PollTimeout:    time.Second,
	ReadRetries:    5,
	WriteRetries:   5,
	MaxRequestSize: 8 << 10,
	ChunkSize:      16 << 10,
	SendBuffer:     64 << 10,
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits
	if l.MaxConns <= 0 {
		l.MaxConns = d.MaxConns
	}
	if l.IdleTimeout <= 0 {
		l.IdleTimeout = d.IdleTimeout
	}
	if l.PollTimeout <= 0 {
		l.PollTimeout = d.PollTimeout
	}
	if l.ReadRetries <= 0 {
		l.ReadRetries = d.ReadRetries
	}
	if l.WriteRetries <= 0 {
		l.WriteRetries = d.WriteRetries
	}
	if l.MaxRequestSize <= 0 {
		l.MaxRequestSize = d.MaxRequestSize
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = d.ChunkSize
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = d.SendBuffer
	}
	return l
}

// Engine owns the connection table. Everything but Stats must be called
// from the goroutine running Run.
type Engine struct {
	lim    Limits
	lfd    int
	resp   Responder
	log    zerolog.Logger
	tab    *table
	chunks *chunkPool
	stats  counters

	spare     int  // reserved fd, freed to shed a connection on EMFILE
	fdsWarned bool // out of fds was logged since the last good accept
}

// New wraps the listening socket lfd. The engine doesn't close lfd.
func New(lfd int, lim Limits, resp Responder, log zerolog.Logger) *Engine {
	lim = lim.withDefaults()
	return &Engine{
		lim:    lim,
		lfd:    lfd,
		resp:   resp,
		log:    log,
		tab:    newTable(lfd, min(lim.MaxConns, 1024)),
		chunks: newChunkPool(lim.ChunkSize),
		spare:  -1,
	}
}

func (e *Engine) Limits() Limits { return e.lim }
func (e *Engine) Stats() Stats   { return e.stats.snapshot() }

// Run polls until ctx is done, then closes every connection.
// ctx is checked once per iteration, so stopping takes at most PollTimeout.
func (e *Engine) Run(ctx context.Context) error {
	e.spare = sock.Reserve()
	defer e.closeSpare()
	defer e.closeAll()

	timeout := int(e.lim.PollTimeout / time.Millisecond)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.Poll(e.tab.fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		verbose := n > 0 && e.log.Debug().Enabled()
		if verbose {
			e.dumpTable("before")
		}

		// new connections first
		if e.tab.fds[0].Revents&unix.POLLIN != 0 {
			e.tab.fds[0].Revents = 0
			if e.accept(time.Now()) {
				continue
			}
		}

		e.service(time.Now())

		if verbose {
			e.dumpTable("after")
		}
	}
}

// service runs one pass over the client slots
func (e *Engine) service(now time.Time) {
	for i := 1; i < len(e.tab.conns); {
		c := e.tab.conns[i]
		rev := e.tab.fds[i].Revents

		switch {
		case c.Idle(now) > e.lim.IdleTimeout:
			c.fail(ReasonTimeout, nil)
		case rev&unix.POLLNVAL != 0:
			c.fail(ReasonIOError, errors.New("poll: invalid fd"))
		case c.State == Reading && rev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0:
			c.readable = true
			e.Step(c, now)
		case c.State != Reading && rev&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0:
			e.Step(c, now)
		}

		if c.State == Closing {
			e.drop(i)
			continue
		}
		e.tab.interest(i)
		i++
	}
}

// accept takes one connection off the listener and reports whether it was added
func (e *Engine) accept(now time.Time) bool {
	fd, peer, err := sock.Accept(e.lfd)
	if err != nil {
		switch {
		case err == unix.EAGAIN, err == unix.EINTR, err == unix.ECONNABORTED:
		case sock.OutOfFds(err):
			e.shed(err)
		default:
			e.log.Error().Err(err).Msg("accept")
		}
		return false
	}
	e.fdsWarned = false

	if err := sock.SetSendBuffer(fd, e.lim.SendBuffer); err != nil {
		e.log.Debug().Err(err).Int("fd", fd).Msg("send buffer")
	}

	if err := e.insert(fd, peer, now); err != nil {
		e.stats.rejected.Add(1)
		e.log.Warn().Err(err).Str("peer", peer.String()).Int("max_conns", e.lim.MaxConns).Msg("connection rejected")
		unix.Close(fd)
		return false
	}
	e.log.Debug().Int("fd", fd).Str("peer", peer.String()).Msg("accepted")
	return true
}

// shed drops one pending connection while the process is out of fds,
// otherwise the listener stays readable and poll never sleeps.
func (e *Engine) shed(cause error) {
	if !e.fdsWarned {
		e.log.Warn().Err(cause).Int("active", e.tab.len()).Msg("out of file descriptors, rejecting connections")
		e.fdsWarned = true
	}
	if e.spare < 0 {
		return
	}
	unix.Close(e.spare)
	if fd, _, err := sock.Accept(e.lfd); err == nil {
		unix.Close(fd)
		e.stats.rejected.Add(1)
	}
	e.spare = sock.Reserve()
}

func (e *Engine) closeSpare() {
	if e.spare >= 0 {
		unix.Close(e.spare)
		e.spare = -1
	}
}

// insert adds an already accepted socket to the table
func (e *Engine) insert(fd int, peer netip.AddrPort, now time.Time) error {
	if e.tab.len() >= e.lim.MaxConns {
		return ErrTableFull
	}
	e.tab.add(newConn(fd, peer, e.lim, now))
	e.stats.accepted.Add(1)
	e.stats.active.Add(1)
	return nil
}

// drop closes the connection in slot i and compacts the table
func (e *Engine) drop(i int) {
	c := e.tab.conns[i]
	if err := c.close(); err != nil {
		e.log.Warn().Err(err).Int("fd", c.Fd).Msg("close")
	}
	e.stats.closedWith(c.Reason)

	ev := e.log.Debug()
	switch c.Reason {
	case ReasonReadRetries, ReasonWriteRetries, ReasonIOError:
		ev = e.log.Warn()
	}
	ev.Int("fd", c.Fd).Str("peer", c.Peer.String()).Stringer("reason", c.Reason).Err(c.Err).Msg("closed")

	e.tab.remove(i)
}

func (e *Engine) closeAll() {
	for e.tab.len() > 0 {
		i := len(e.tab.conns) - 1
		c := e.tab.conns[i]
		if c.State != Closing {
			c.fail(ReasonShutdown, nil)
		}
		e.drop(i)
	}
}
