package engine

import (
	"strconv"
	"strings"
)

// asciiDump escapes control bytes and keeps the line structure of a raw request
func asciiDump(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw) + len(raw)/8)
	for _, c := range raw {
		switch {
		case c == '\n':
			sb.WriteString("\\n\n")
		case c == '\r':
			sb.WriteString("\\r")
		case c == '\t':
			sb.WriteString("\\t")
		case c < 0x20 || c >= 0x7f:
			sb.WriteString("\\x")
			if c < 0x10 {
				sb.WriteByte('0')
			}
			sb.WriteString(strconv.FormatUint(uint64(c), 16))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// dumpTable logs every connection slot at debug level
func (e *Engine) dumpTable(when string) {
	e.log.Debug().Str("when", when).Int("conns", e.tab.len()).Msg("connection table")
	for i := 1; i < len(e.tab.conns); i++ {
		c := e.tab.conns[i]
		e.log.Debug().
			Int("slot", i).
			Int("fd", c.Fd).
			Str("peer", c.Peer.String()).
			Stringer("state", c.State).
			Int("buffered", c.buf.Len()).
			Bool("keep_alive", c.keepAlive).
			Int("read_left", c.readLeft).
			Int("write_left", c.writeLeft).
			Uint16("events", uint16(e.tab.fds[i].Events)).
			Uint16("revents", uint16(e.tab.fds[i].Revents)).
			Msg("conn")
	}
}
