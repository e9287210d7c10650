// Package static turns a parsed request into a response for files under one root.
package static

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/server/fsinfo"
	"github.com/Nikaoto/mimino/server/protocol"
)

// Config is the file-serving part of the server configuration.
type Config struct {
	Root       string // directory or file to serve
	Index      string // served for "dir/" when present, empty disables
	Suffix     string // tried as path+Suffix when path is missing, empty disables
	ErrorFiles bool   // serve <Root>/<code>.html as error bodies
	Unsafe     bool   // allow ".." segments in request paths
}

// Builder decides status, headers and body source. It never touches a socket.
type Builder struct {
	conf   Config
	log    zerolog.Logger
	single bool // Root is a regular file, served for every path
}

func New(conf Config, log zerolog.Logger) *Builder {
	b := &Builder{conf: conf, log: log}
	if f, err := fsinfo.Lookup(conf.Root); err == nil && !f.IsDir && !f.IsBroken {
		b.single = true
	}
	return b
}

// fixed bodies
const (
	textBadRequest = "400 bad request\n"
	textForbidden  = "403 forbidden\n"
	textNotFound   = "404 not found\n"
	textNotAllowed = "405 method not allowed\n"
	textTooLarge   = "413 request too large\n"
)

// Respond builds the response for req.
// A request that carries a body closes the connection, the body is never read.
func (b *Builder) Respond(req *protocol.Request) *protocol.Response {
	resp := b.respond(req)
	if req.HasBody() {
		resp.Close = true
	}
	return resp
}

func (b *Builder) respond(req *protocol.Request) *protocol.Response {
	if req.Err != nil {
		return b.BadRequest()
	}
	if req.Method != "GET" && req.Method != "HEAD" {
		resp := b.errorPage(protocol.StatusMethodNotAllowed, textNotAllowed)
		resp.SetHeader("Allow", "GET, HEAD")
		resp.Close = true
		return resp
	}

	rawPath, _, _ := strings.Cut(req.Path, "?")
	rawPath = collapseSlashes(rawPath)
	upath, err := url.PathUnescape(rawPath)
	if err != nil {
		b.log.Debug().Str("path", req.Path).Err(err).Msg("bad percent-encoding")
		return b.BadRequest()
	}
	if hasControl(upath) {
		b.log.Debug().Str("path", req.Path).Msg("control byte in path")
		return b.BadRequest()
	}
	if !strings.HasPrefix(upath, "/") {
		upath = "/" + upath
	}
	if !b.conf.Unsafe && hasDotDot(upath) {
		return b.errorPage(protocol.StatusForbidden, textForbidden)
	}

	if b.single {
		f, err := fsinfo.Lookup(b.conf.Root)
		switch {
		case missing(err):
			return b.NotFound()
		case err != nil:
			return b.internal(err)
		}
		return b.serveFile(req, b.conf.Root, f)
	}

	full := fsinfo.Resolve(b.conf.Root, upath)
	f, err := fsinfo.Lookup(full)
	switch {
	case missing(err):
		if alt, ok := b.withSuffix(full, upath); ok {
			return b.serveFile(req, alt.path, alt.file)
		}
		return b.NotFound()
	case err != nil:
		return b.internal(err)
	case f.IsBroken:
		return b.NotFound()
	case f.IsDir && !strings.HasSuffix(upath, "/"):
		resp := protocol.NewResponse(protocol.StatusMovedPermanently)
		resp.SetHeader("Location", rawPath+"/")
		return resp
	case f.IsDir:
		if b.conf.Index != "" {
			ipath := fsinfo.Resolve(full, b.conf.Index)
			fi, err := fsinfo.Lookup(ipath)
			switch {
			case err == nil && !fi.IsDir && !fi.IsBroken:
				return b.serveFile(req, ipath, fi)
			case err != nil && !missing(err):
				return b.internal(err)
			}
		}
		return b.listing(full, upath)
	default:
		return b.serveFile(req, full, f)
	}
}

type found struct {
	path string
	file *fsinfo.File
}

func (b *Builder) withSuffix(full, upath string) (found, bool) {
	if b.conf.Suffix == "" || strings.HasSuffix(upath, "/") {
		return found{}, false
	}
	p := full + b.conf.Suffix
	f, err := fsinfo.Lookup(p)
	if err != nil || f.IsDir || f.IsBroken {
		return found{}, false
	}
	return found{path: p, file: f}, true
}

func (b *Builder) serveFile(req *protocol.Request, path string, f *fsinfo.File) *protocol.Response {
	fd, err := os.Open(path)
	if err != nil {
		if missing(err) {
			return b.NotFound()
		}
		return b.internal(err)
	}

	size := f.Size
	resp := protocol.NewResponse(protocol.StatusOK)
	resp.SetHeader("Content-Type", protocol.ContentType(path))
	resp.SetHeader("Last-Modified", protocol.FormatTime(f.ModTime))
	resp.SetHeader("Accept-Ranges", "bytes")

	if !req.Range.Given() {
		resp.SetBody(protocol.NewFileBody(fd, 0, size-1))
		return resp
	}

	start, end, ok := req.Range.Bounds(size)
	if !ok {
		fd.Close()
		resp = b.errorPage(protocol.StatusRangeNotSatisfiable, "")
		resp.SetHeader("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		return resp
	}
	resp.Status = protocol.StatusPartialContent
	resp.SetHeader("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+
		strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	resp.SetBody(protocol.NewFileBody(fd, start, end))
	return resp
}

// BadRequest is sent for requests that parsed far enough to be answered.
func (b *Builder) BadRequest() *protocol.Response {
	resp := b.errorPage(protocol.StatusBadRequest, textBadRequest)
	resp.Close = true
	return resp
}

// TooLarge is sent when a request outgrows the read buffer.
func (b *Builder) TooLarge() *protocol.Response {
	resp := b.errorPage(protocol.StatusTooLarge, textTooLarge)
	resp.Close = true
	return resp
}

func (b *Builder) NotFound() *protocol.Response {
	return b.errorPage(protocol.StatusNotFound, textNotFound)
}

func (b *Builder) internal(err error) *protocol.Response {
	b.log.Error().Err(err).Msg("stat failed")
	return b.errorPage(protocol.StatusInternalServerError, "")
}

// errorPage uses <Root>/<code>.html when error files are on, text otherwise
func (b *Builder) errorPage(code int, text string) *protocol.Response {
	resp := protocol.NewResponse(code)
	if b.conf.ErrorFiles {
		p := fsinfo.Resolve(b.conf.Root, strconv.Itoa(code)+".html")
		if data, err := os.ReadFile(p); err == nil {
			resp.SetText("text/html", string(data))
			return resp
		}
	}
	if text != "" {
		resp.SetText("text/plain", text)
	}
	return resp
}

// missing treats a path through a regular file like a missing one
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ENOTDIR)
}

// collapseSlashes squeezes runs of '/' into one
func collapseSlashes(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}
	var sb strings.Builder
	sb.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '/' && i > 0 && p[i-1] == '/' {
			continue
		}
		sb.WriteByte(p[i])
	}
	return sb.String()
}

func hasControl(p string) bool {
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return true
		}
	}
	return false
}

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
