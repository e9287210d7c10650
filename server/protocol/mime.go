package protocol

import "strings"

const DefaultType = "application/octet-stream"

// extension -> content type
var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"pdf":  "application/pdf",
	"css":  "text/css",
	"txt":  "text/plain",
	"mp4":  "video/mp4",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"js":   "application/javascript",
	"json": "application/json",
}

// ContentType picks a type by the extension after the last dot, case-insensitive.
func ContentType(name string) string {
	p := strings.LastIndexByte(name, '.')
	if p < 0 || strings.IndexByte(name[p:], '/') >= 0 {
		return DefaultType
	}
	if t, ok := mimeTypes[strings.ToLower(name[p+1:])]; ok {
		return t
	}
	return DefaultType
}
