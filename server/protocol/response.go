package protocol

import (
	"os"

	"github.com/Nikaoto/mimino/server/buffer"
)

// header for response
type Header struct {
	Key, Val string
}

// Body is the payload source of a Response: exactly one of *MemBody or *FileBody.
type Body interface {
	Len() int64
	Close() error
	isBody()
}

// MemBody is an owned in-memory payload, e.g. a listing or an error page.
type MemBody struct {
	Buf  *buffer.Buffer
	Sent int
}

func (b *MemBody) Len() int64 {
	if b.Buf == nil {
		return 0
	}
	return int64(b.Buf.Len())
}

// Rest returns what is left to send.
func (b *MemBody) Rest() []byte {
	if b.Buf == nil {
		return nil
	}
	return b.Buf.Bytes()[b.Sent:]
}

func (b *MemBody) Close() error { return nil }
func (*MemBody) isBody()        {}

// FileBody streams the inclusive byte range [Start, End] of an open file.
// Cursor is the next byte to send and only moves forward.
type FileBody struct {
	File   *os.File
	Start  int64
	End    int64
	Cursor int64
}

func NewFileBody(f *os.File, start, end int64) *FileBody {
	return &FileBody{File: f, Start: start, End: end, Cursor: start}
}

func (b *FileBody) Len() int64 { return b.End - b.Start + 1 }

// Done reports whether the cursor has passed the end of the range.
func (b *FileBody) Done() bool { return b.Cursor > b.End }

// Close releases the file; calling it again is a no-op.
func (b *FileBody) Close() error {
	if b.File == nil {
		return nil
	}
	err := b.File.Close()
	b.File = nil
	return err
}

func (*FileBody) isBody() {}

// Response owns the header block and one body source.
type Response struct {
	Status int
	Body   Body
	Close  bool // connection must close after this response

	Head     *buffer.Buffer // built by Seal
	HeadSent int

	headers []Header
}

// NewResponse starts a response with an empty in-memory body.
func NewResponse(status int) *Response {
	return &Response{
		Status: status,
		Body:   &MemBody{Buf: buffer.New(0)},
	}
}

func (r *Response) SetHeader(key, val string) {
	for i := range r.headers {
		if r.headers[i].Key == key {
			r.headers[i].Val = val
			return
		}
	}
	r.headers = append(r.headers, Header{Key: key, Val: val})
}

// Header returns the value of a header set so far, Seal-added ones included.
func (r *Response) Header(key string) string {
	for _, h := range r.headers {
		if h.Key == key {
			return h.Val
		}
	}
	return ""
}

// SetText replaces the body with an in-memory text.
func (r *Response) SetText(contentType, text string) {
	r.SetBody(&MemBody{Buf: buffer.New(len(text))})
	_ = r.Body.(*MemBody).Buf.AppendString(text)
	r.SetHeader("Content-Type", contentType)
}

// SetBody swaps the body source, releasing the previous one.
func (r *Response) SetBody(b Body) {
	if r.Body != nil {
		r.Body.Close()
	}
	r.Body = b
}

// Seal builds the header block. Content-Length comes from the body,
// Connection from keepAlive.
func (r *Response) Seal(keepAlive bool) error {
	conn := "close"
	if keepAlive {
		conn = "keep-alive"
	}

	hs := make([]Header, 0, len(r.headers)+4)
	hs = append(hs, Header{Key: "Server", Val: "mimino"})
	if ct := r.Header("Content-Type"); ct != "" {
		hs = append(hs, Header{Key: "Content-Type", Val: ct})
	}
	hs = append(hs, Header{Key: "Content-Length", Val: lengthString(r.Body.Len())})
	for _, h := range r.headers {
		if h.Key != "Content-Type" {
			hs = append(hs, h)
		}
	}
	hs = append(hs, Header{Key: "Connection", Val: conn})
	r.headers = hs

	r.Head = buffer.New(256)
	r.HeadSent = 0
	return BuildHead(r.Head, r.Status, hs)
}

// HeadRest returns the header bytes not written yet.
func (r *Response) HeadRest() []byte {
	return r.Head.Bytes()[r.HeadSent:]
}

// Release closes the body source. Safe to call more than once.
func (r *Response) Release() {
	if r.Body != nil {
		r.Body.Close()
	}
}
