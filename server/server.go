// Package server wires the listener, the event loop and the file responder together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/internal/sock"
	"github.com/Nikaoto/mimino/server/engine"
	"github.com/Nikaoto/mimino/server/fsinfo"
	"github.com/Nikaoto/mimino/server/static"
)

// Config is everything the server needs to run.
type Config struct {
	Addr       string // host to bind, empty for all interfaces
	Port       int
	ServePath  string // directory or file to serve
	Index      string // empty disables index files
	ChrootDir  string // overrides ServePath as the root when set
	Unsafe     bool
	ErrorFiles bool
	Suffix     string

	MaxConns       int // 0 derives it from RLIMIT_NOFILE
	IdleTimeout    time.Duration
	PollTimeout    time.Duration
	ReadRetries    int
	WriteRetries   int
	MaxRequestSize int
	ChunkSize      int
	SendBuffer     int
}

func DefaultConfig() Config {
	lim := engine.DefaultLimits
	return Config{
		Port:           8080,
		ServePath:      "./",
		Index:          "index.html",
		IdleTimeout:    lim.IdleTimeout,
		PollTimeout:    lim.PollTimeout,
		ReadRetries:    lim.ReadRetries,
		WriteRetries:   lim.WriteRetries,
		MaxRequestSize: lim.MaxRequestSize,
		ChunkSize:      lim.ChunkSize,
		SendBuffer:     lim.SendBuffer,
	}
}

// Root is the directory requests are resolved against.
func (c Config) Root() string {
	if c.ChrootDir != "" {
		return c.ChrootDir
	}
	return c.ServePath
}

func (c Config) limits() engine.Limits {
	maxConns := c.MaxConns
	if maxConns <= 0 {
		// each client may hold a socket and an open body file
		maxConns = (sock.MaxFds() - 2) / 2
	}
	return engine.Limits{
		MaxConns:       maxConns,
		IdleTimeout:    c.IdleTimeout,
		PollTimeout:    c.PollTimeout,
		ReadRetries:    c.ReadRetries,
		WriteRetries:   c.WriteRetries,
		MaxRequestSize: c.MaxRequestSize,
		ChunkSize:      c.ChunkSize,
		SendBuffer:     c.SendBuffer,
	}
}

type Server struct {
	conf Config
	log  zerolog.Logger
	lfd  int
	addr netip.AddrPort
	eng  *engine.Engine
}

// New checks the root and binds the listening socket.
func New(conf Config, log zerolog.Logger) (*Server, error) {
	if conf.ChrootDir != "" {
		conf.Unsafe = false
	}
	root := conf.Root()
	if _, err := fsinfo.Lookup(root); err != nil {
		return nil, fmt.Errorf("serve path: %w", err)
	}

	lfd, err := sock.Listen(conf.Addr, conf.Port)
	if err != nil {
		return nil, err
	}
	addr, err := sock.LocalAddr(lfd)
	if err != nil {
		unix.Close(lfd)
		return nil, err
	}

	responder := static.New(static.Config{
		Root:       root,
		Index:      conf.Index,
		Suffix:     conf.Suffix,
		ErrorFiles: conf.ErrorFiles,
		Unsafe:     conf.Unsafe,
	}, log.With().Str("component", "static").Logger())

	s := &Server{
		conf: conf,
		log:  log,
		lfd:  lfd,
		addr: addr,
		eng:  engine.New(lfd, conf.limits(), responder, log.With().Str("component", "engine").Logger()),
	}

	lim := s.eng.Limits()
	log.Info().
		Str("addr", addr.String()).
		Str("root", root).
		Str("index", conf.Index).
		Str("suffix", conf.Suffix).
		Bool("unsafe", conf.Unsafe).
		Bool("error_files", conf.ErrorFiles).
		Int("max_conns", lim.MaxConns).
		Dur("idle_timeout", lim.IdleTimeout).
		Msg("listening")
	return s, nil
}

// Addr is the address the listener is bound to.
func (s *Server) Addr() netip.AddrPort { return s.addr }

func (s *Server) Stats() engine.Stats { return s.eng.Stats() }

// Run serves until ctx is cancelled, then closes every connection and the listener.
func (s *Server) Run(ctx context.Context) error {
	if s.lfd < 0 {
		return errors.New("server: already stopped")
	}
	err := s.eng.Run(ctx)
	if cerr := s.Close(); err == nil {
		err = cerr
	}

	st := s.Stats()
	s.log.Info().
		Uint64("accepted", st.Accepted).
		Uint64("rejected", st.Rejected).
		Uint64("closed", st.Closed).
		Uint64("served", st.Served).
		Uint64("timed_out", st.TimedOut).
		Uint64("retry_exhausted", st.RetryExhausted).
		Uint64("io_errors", st.IOErrors).
		Msg("stopped")
	return err
}

// Close releases the listener. Run calls it on the way out.
func (s *Server) Close() error {
	if s.lfd < 0 {
		return nil
	}
	err := unix.Close(s.lfd)
	s.lfd = -1
	return err
}
