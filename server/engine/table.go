package engine

import "golang.org/x/sys/unix"

// table is the dense poll set. Slot 0 is the listener and has no Conn.
// fds[i] and conns[i] always describe the same socket.
type table struct {
	fds   []unix.PollFd
	conns []*Conn
}

func newTable(lfd, capacity int) *table {
	t := &table{
		fds:   make([]unix.PollFd, 1, capacity+1),
		conns: make([]*Conn, 1, capacity+1),
	}
	t.fds[0] = unix.PollFd{Fd: int32(lfd), Events: unix.POLLIN}
	return t
}

// len is the number of client connections
func (t *table) len() int { return len(t.conns) - 1 }

func (t *table) add(c *Conn) {
	t.fds = append(t.fds, unix.PollFd{Fd: int32(c.Fd), Events: unix.POLLIN})
	t.conns = append(t.conns, c)
}

// remove drops slot i by moving the last slot into it.
// The caller must look at slot i again since it now holds another connection.
func (t *table) remove(i int) {
	last := len(t.conns) - 1
	t.fds[i] = t.fds[last]
	t.conns[i] = t.conns[last]
	t.conns[last] = nil
	t.fds = t.fds[:last]
	t.conns = t.conns[:last]
}

// interest sets the poll events slot i waits for, based on its state
func (t *table) interest(i int) {
	if t.conns[i].State == Reading {
		t.fds[i].Events = unix.POLLIN
	} else {
		t.fds[i].Events = unix.POLLOUT
	}
	t.fds[i].Revents = 0
}
