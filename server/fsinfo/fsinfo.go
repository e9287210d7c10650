// filesystem metadata: link-aware stat, sorted directory listing and path joining
package fsinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is the metadata record for one path.
// For a symlink Mode, Size, IsDir and ModTime describe the target,
// while IsSymlink stays set for the link itself.
type File struct {
	Name      string // base name
	Mode      fs.FileMode
	Size      int64
	IsDir     bool
	IsSymlink bool
	IsBroken  bool // symlink whose target does not exist
	ModTime   time.Time
}

// Lookup stats path without following a final symlink first, then stats through the link.
// A missing path yields an error matching fs.ErrNotExist; a broken link is not an error.
func Lookup(path string) (*File, error) {
	li, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}

	f := &File{
		Name:    filepath.Base(path),
		Mode:    li.Mode(),
		Size:    li.Size(),
		IsDir:   li.IsDir(),
		ModTime: li.ModTime(),
	}
	if li.Mode()&fs.ModeSymlink == 0 {
		return f, nil
	}

	f.IsSymlink = true
	ti, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.IsBroken = true
			f.Size = 0
			return f, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f.Mode = ti.Mode()
	f.Size = ti.Size()
	f.IsDir = ti.IsDir()
	f.ModTime = ti.ModTime()
	return f, nil
}

// List returns the record of dir itself and its sorted entries,
// including the synthetic "." and ".." entries.
func List(dir string) (*File, []*File, error) {
	self, err := Lookup(dir)
	if err != nil {
		return nil, nil, err
	}
	if !self.IsDir {
		return nil, nil, fmt.Errorf("list %s: not a directory", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("readdir %s: %w", dir, err)
	}

	files := make([]*File, 0, len(ents)+2)
	dot := *self
	dot.Name = "."
	files = append(files, &dot)
	if parent, err := Lookup(Resolve(dir, "..")); err == nil {
		parent.Name = ".."
		files = append(files, parent)
	}

	for _, e := range ents {
		f, err := Lookup(Resolve(dir, e.Name()))
		if err != nil {
			// entry vanished between readdir and stat
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}
		f.Name = e.Name()
		files = append(files, f)
	}

	Sort(files)
	return self, files, nil
}

// Sort orders entries: ".", "..", directories, then files, each group by byte-wise name.
func Sort(files []*File) {
	sort.SliceStable(files, func(i, j int) bool {
		return less(files[i], files[j])
	})
}

func less(a, b *File) bool {
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra < rb
	}
	return a.Name < b.Name
}

func rank(f *File) int {
	switch {
	case f.Name == ".":
		return 0
	case f.Name == "..":
		return 1
	case f.IsDir:
		return 2
	default:
		return 3
	}
}

// Resolve joins base and rel with a single separator, collapsing duplicate slashes.
// "." and ".." segments are kept as they are.
func Resolve(base, rel string) string {
	var sb strings.Builder
	sb.Grow(len(base) + len(rel) + 1)

	last := byte(0)
	write := func(s string) {
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c == '/' && last == '/' {
				continue
			}
			sb.WriteByte(c)
			last = c
		}
	}

	write(base)
	if base != "" && rel != "" && last != '/' && rel[0] != '/' {
		sb.WriteByte('/')
		last = '/'
	}
	write(rel)
	return sb.String()
}
