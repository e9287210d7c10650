package engine

import "sync/atomic"

// Stats is a snapshot of the engine counters.
type Stats struct {
	Accepted       uint64
	Rejected       uint64 // table full
	Closed         uint64
	TimedOut       uint64
	RetryExhausted uint64
	IOErrors       uint64
	Served         uint64 // responses fully written
	Active         int64
}

// counters are written by the loop and read from anywhere
type counters struct {
	accepted       atomic.Uint64
	rejected       atomic.Uint64
	closed         atomic.Uint64
	timedOut       atomic.Uint64
	retryExhausted atomic.Uint64
	ioErrors       atomic.Uint64
	served         atomic.Uint64
	active         atomic.Int64
}

func (c *counters) closedWith(r Reason) {
	c.closed.Add(1)
	c.active.Add(-1)
	switch r {
	case ReasonTimeout:
		c.timedOut.Add(1)
	case ReasonReadRetries, ReasonWriteRetries:
		c.retryExhausted.Add(1)
	case ReasonIOError:
		c.ioErrors.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Accepted:       c.accepted.Load(),
		Rejected:       c.rejected.Load(),
		Closed:         c.closed.Load(),
		TimedOut:       c.timedOut.Load(),
		RetryExhausted: c.retryExhausted.Load(),
		IOErrors:       c.ioErrors.Load(),
		Served:         c.served.Load(),
		Active:         c.active.Load(),
	}
}
