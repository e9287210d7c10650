package protocol

import "strings"

// Request is the parsed form of one raw request.
// Once Err is set only the fields parsed before the failure are meaningful.
type Request struct {
	Method  string
	Path    string
	Version string // "0.9", "1.0" or "1.1"

	Host       string
	UserAgent  string
	Accept     string
	Connection string
	HasHost    bool

	Range Range

	ContentLength    int64
	HasLength        bool
	TransferEncoding string

	End int   // bytes consumed, the index right after the blank line
	Err error // set once, *ParseError
}

// fail records only the first violation
func (r *Request) fail(msg string, off int) {
	if r.Err == nil {
		r.Err = &ParseError{Msg: msg, Off: off}
	}
}

// Answerable reports whether enough was parsed to send a response back.
func (r *Request) Answerable() bool {
	return r.Method != "" && r.Path != "" && r.HasHost
}

// KeepAlive reports whether the client allows another request on this connection.
func (r *Request) KeepAlive() bool {
	switch r.Version {
	case "1.1":
		return !strings.EqualFold(r.Connection, "close")
	case "1.0":
		return strings.EqualFold(r.Connection, "keep-alive")
	default:
		return false
	}
}

// HasBody reports whether the client announced a request body.
// Bodies are never read, so the connection can't be reused after one.
func (r *Request) HasBody() bool {
	return (r.HasLength && r.ContentLength > 0) || r.TransferEncoding != ""
}

func (r *Request) IsHead() bool {
	return r.Method == "HEAD"
}
