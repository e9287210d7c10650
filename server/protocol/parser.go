// parse raw bytes of a completed request into a Request
// only parser logic, no I/O
package protocol

import (
	"bytes"
)

var (
	httpPrefix = []byte("HTTP/")
	blankLine  = []byte("\r\n\r\n")

	hHost             = []byte("Host")
	hUserAgent        = []byte("User-Agent")
	hAccept           = []byte("Accept")
	hConnection       = []byte("Connection")
	hRange            = []byte("Range")
	hContentLength    = []byte("Content-Length")
	hTransferEncoding = []byte("Transfer-Encoding")
)

// HeaderEnd scans raw[from:] for the blank line that ends a header block.
// It returns the index right after the blank line or -1.
// Readers keep from at len-3 of what was already scanned so each call only looks at the new tail.
func HeaderEnd(raw []byte, from int) int {
	if from < 0 {
		from = 0
	}
	if from >= len(raw) {
		return -1
	}
	idx := bytes.Index(raw[from:], blankLine)
	if idx == -1 {
		return -1
	}
	return from + idx + len(blankLine)
}

// Parse turns a completed raw request into a Request.
// It stops at the first syntax violation and records it in Request.Err.
// Unknown headers are skipped.
func Parse(raw []byte) *Request {
	req := &Request{}
	crs := 0

	// find a separator
	findsep := func(start int, sep byte) int {
		idx := bytes.IndexByte(raw[start:], sep)
		if idx == -1 {
			return -1
		}
		return start + idx
	}
	at := func(i int) byte {
		if i < len(raw) {
			return raw[i]
		}
		return 0
	}

	// method, uppercase letters only
	st := crs
	for crs < len(raw) && isUpper(raw[crs]) {
		crs++
	}
	if crs == st {
		req.fail("invalid method", crs)
		return req
	}
	req.Method = string(raw[st:crs])
	if at(crs) != ' ' {
		req.fail("no space after method", crs)
		return req
	}
	crs++

	// path
	st = crs
	for crs < len(raw) && isPathChar(raw[crs]) {
		crs++
	}
	if crs == st {
		req.fail("invalid path", crs)
		return req
	}
	req.Path = string(raw[st:crs])
	if at(crs) != ' ' {
		req.fail("no space after path", crs)
		return req
	}
	crs++

	// protocol, HTTP/<digits>.<digits>
	if !bytes.HasPrefix(raw[crs:], httpPrefix) {
		req.fail("no 'HTTP/' in version", crs)
		return req
	}
	crs += len(httpPrefix)
	st = crs
	for crs < len(raw) && isDigit(raw[crs]) {
		crs++
	}
	if at(crs) != '.' {
		req.fail("no '.' in version number", crs)
		return req
	}
	crs++
	for crs < len(raw) && isDigit(raw[crs]) {
		crs++
	}
	req.Version = string(raw[st:crs])
	switch req.Version {
	case "0.9", "1.0", "1.1":
	default:
		req.fail("unsupported version", st)
		return req
	}
	if at(crs) != '\r' || at(crs+1) != '\n' {
		req.fail("no CRLF after version", crs)
		return req
	}
	crs += 2

	// headers until the blank line
	for {
		if crs+1 >= len(raw) {
			req.fail("unterminated header block", crs)
			return req
		}
		if raw[crs] == '\r' && raw[crs+1] == '\n' {
			crs += 2
			break
		}

		lf := findsep(crs, '\n')
		if lf == -1 {
			req.fail("unterminated header line", crs)
			return req
		}
		if lf == crs || raw[lf-1] != '\r' {
			req.fail("no CRLF after header", lf)
			return req
		}
		le := lf - 1

		st = crs
		for crs < le && isToken(raw[crs]) {
			crs++
		}
		if crs == st {
			req.fail("empty header name", crs)
			return req
		}
		if raw[crs] != ':' {
			req.fail("no ':' after header name", crs)
			return req
		}
		key := raw[st:crs]
		crs++

		for crs < le && (raw[crs] == ' ' || raw[crs] == '\t') {
			crs++
		}
		val := bytes.TrimRight(raw[crs:le], " \t")

		switch {
		case bytes.EqualFold(key, hHost):
			req.Host = string(val)
			req.HasHost = true
		case bytes.EqualFold(key, hUserAgent):
			req.UserAgent = string(val)
		case bytes.EqualFold(key, hAccept):
			req.Accept = string(val)
		case bytes.EqualFold(key, hConnection):
			req.Connection = string(val)
		case bytes.EqualFold(key, hRange):
			r, ok := parseRange(val)
			if !ok {
				req.fail("invalid range", crs)
				return req
			}
			req.Range = r
		case bytes.EqualFold(key, hContentLength):
			n, next, ok := consumeNum(val, 0)
			if !ok || n < 0 || next != len(val) || (req.HasLength && n != req.ContentLength) {
				req.fail("invalid content length", crs)
				return req
			}
			req.ContentLength = n
			req.HasLength = true
		case bytes.EqualFold(key, hTransferEncoding):
			req.TransferEncoding = string(val)
		}

		crs = lf + 1
	}

	req.End = crs
	return req
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// lookup tables built once, index is the byte
var (
	pathChars  [256]bool
	tokenChars [256]bool
)

func init() {
	for c := 0; c < 256; c++ {
		b := byte(c)
		alnum := isDigit(b) || isUpper(b) || (b >= 'a' && b <= 'z')
		pathChars[c] = alnum
		tokenChars[c] = alnum
	}
	for _, c := range []byte("!$?&'()*+,;=%-._~:@/") {
		pathChars[c] = true
	}
	for _, c := range []byte("!#$%&'*+-.^_`|~") {
		tokenChars[c] = true
	}
}

func isPathChar(c byte) bool { return pathChars[c] }
func isToken(c byte) bool    { return tokenChars[c] }
