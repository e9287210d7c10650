package static

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/Nikaoto/mimino/server/buffer"
	"github.com/Nikaoto/mimino/server/fsinfo"
	"github.com/Nikaoto/mimino/server/protocol"
)

// listing renders dir as an HTML table. upath is the decoded request path,
// always ending in '/'.
func (b *Builder) listing(dir, upath string) *protocol.Response {
	self, files, err := fsinfo.List(dir)
	if err != nil {
		return b.internal(err)
	}

	body := buffer.New(1024 + 128*len(files))
	title := htmlEscape(upath)
	body.AppendString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	body.AppendString(title)
	body.AppendString("</title></head>\n<body><h1>")
	body.AppendString(title)
	body.AppendString("</h1>\n<table>\n<tr><th>name</th><th>size</th><th>modified</th></tr>\n")
	for _, f := range files {
		if f.Name == "." || (f.Name == ".." && upath == "/") {
			continue
		}
		name := f.Name
		href := url.PathEscape(name)
		size := strconv.FormatInt(f.Size, 10)
		switch {
		case f.IsDir:
			name += "/"
			href += "/"
			size = "-"
		case f.IsBroken:
			name += " (broken)"
		}
		body.AppendString(`<tr><td><a href="` + htmlEscape(href) + `">` + htmlEscape(name) +
			`</a></td><td>` + size + `</td><td>` + protocol.FormatTime(f.ModTime) + "</td></tr>\n")
	}
	if _, err := body.Appendf("</table>\n<hr><small>mimino, %d entries</small>\n</body></html>\n", len(files)); err != nil {
		return b.internal(err)
	}

	resp := protocol.NewResponse(protocol.StatusOK)
	resp.SetBody(&protocol.MemBody{Buf: body})
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	resp.SetHeader("Last-Modified", protocol.FormatTime(self.ModTime))
	return resp
}

func htmlEscape(s string) string { return htmlEscaper.Replace(s) }

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&#34;", "'", "&#39;")
