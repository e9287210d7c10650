package protocol

import (
	"time"

	"github.com/Nikaoto/mimino/server/buffer"
)

// lookup table for status lines
// i use flat list instead of map bc codes is fixed
var statusTable = [506]string{
	// 2xx
	200: "200 OK",
	206: "206 Partial Content",

	// 3xx
	301: "301 Moved Permanently",
	304: "304 Not Modified",

	// 4xx
	400: "400 Bad Request",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	408: "408 Request Timeout",
	413: "413 Payload Too Large",
	416: "416 Range Not Satisfiable",

	// 5xx
	500: "500 Internal Server Error",
	501: "501 Not Implemented",
	503: "503 Service Unavailable",
	505: "505 HTTP Version Not Supported",
}

// status codes the server emits
const (
	StatusOK                  = 200
	StatusPartialContent      = 206
	StatusMovedPermanently    = 301
	StatusBadRequest          = 400
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusTooLarge            = 413
	StatusRangeNotSatisfiable = 416
	StatusInternalServerError = 500
)

// for fast access
const (
	proto = "HTTP/1.1 "
	crlf  = "\r\n"
	colon = ": "
)

// TimeFormat is the IMF-fixdate layout used by Last-Modified
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// StatusLine returns "<code> <reason>", unknown codes fall back to 500.
func StatusLine(code int) string {
	if code < 0 || code >= len(statusTable) || statusTable[code] == "" {
		return statusTable[500]
	}
	return statusTable[code]
}

// helper func to copy int to pre-allocated buf with zero-alloc, buf is dst[n:]
// n should be uint bc / 10 (and % 10) for uints is faster
func IntToBuf(buf []byte, n uint64) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte(n%10) + '0'
		n /= 10
	}
	return copy(buf, tmp[i:])
}

// BuildHead writes the status line, headers and the closing blank line into dst.
func BuildHead(dst *buffer.Buffer, code int, headers []Header) error {
	if err := dst.AppendString(proto); err != nil {
		return err
	}
	if err := dst.AppendString(StatusLine(code)); err != nil {
		return err
	}
	if err := dst.AppendString(crlf); err != nil {
		return err
	}

	for _, h := range headers {
		if err := dst.AppendString(h.Key); err != nil {
			return err
		}
		if err := dst.AppendString(colon); err != nil {
			return err
		}
		if err := dst.AppendString(h.Val); err != nil {
			return err
		}
		if err := dst.AppendString(crlf); err != nil {
			return err
		}
	}

	return dst.AppendString(crlf)
}

// lengthString formats n without going through fmt
func lengthString(n int64) string {
	var tmp [20]byte
	if n < 0 {
		n = 0
	}
	return string(tmp[:IntToBuf(tmp[:], uint64(n))])
}
