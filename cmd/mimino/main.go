// mimino serves a directory or a single file over HTTP/1.x.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/Nikaoto/mimino/server"
)

// chrootToServePath marks "-r" given without a directory
const chrootToServePath = "\x00serve-path"

type options struct {
	conf    server.Config
	verbose bool
	quiet   bool
	chroot  bool
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var o options
	o.conf = server.DefaultConfig()

	fs := pflag.NewFlagSet("mimino", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: mimino [flags] [path]\n\n")
		fs.PrintDefaults()
	}

	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log connection states and request dumps")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "log errors only, wins over --verbose")
	fs.BoolVarP(&o.conf.Unsafe, "unsafe", "u", false, "allow '..' in request paths")
	chrootDir := fs.StringP("chroot", "r", "", "confine serving to `dir`, the served path when no dir is given")
	fs.Lookup("chroot").NoOptDefVal = chrootToServePath
	fs.BoolVarP(&o.conf.ErrorFiles, "error-files", "e", false, "serve <root>/<code>.html for error statuses")
	fs.StringVarP(&o.conf.Suffix, "suffix", "s", "", "try path+`ext` for missing paths")
	fs.Lookup("suffix").NoOptDefVal = ".html"
	fs.IntVarP(&o.conf.Port, "port", "p", o.conf.Port, "port to listen on")
	fs.StringVarP(&o.conf.Index, "index", "i", o.conf.Index, "index `file` for directories, empty disables")
	fs.StringVar(&o.conf.Addr, "addr", "", "address to bind, all interfaces when empty")
	fs.DurationVar(&o.conf.IdleTimeout, "idle-timeout", o.conf.IdleTimeout, "close connections idle for this long")
	fs.IntVar(&o.conf.MaxConns, "max-conns", 0, "connection limit, derived from the open file limit when 0")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		o.conf.ServePath = fs.Arg(0)
	default:
		return o, fmt.Errorf("expected one path, got %d", fs.NArg())
	}
	if o.conf.Port < 0 || o.conf.Port > 0xffff {
		return o, fmt.Errorf("invalid port %d", o.conf.Port)
	}

	if fs.Changed("chroot") {
		o.chroot = true
		o.conf.Unsafe = false
		o.conf.ChrootDir = *chrootDir
		if o.conf.ChrootDir == chrootToServePath || o.conf.ChrootDir == "" {
			o.conf.ChrootDir = o.conf.ServePath
		}
	}
	return o, nil
}

func (o options) level() zerolog.Level {
	switch {
	case o.quiet:
		return zerolog.ErrorLevel
	case o.verbose:
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// confine tries a real chroot into dir. Without the privilege for it
// requests are still kept inside dir by path checks.
func confine(conf *server.Config, log zerolog.Logger) {
	dir := conf.ChrootDir
	if err := unix.Chroot(dir); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("chroot failed, confining by path instead")
		return
	}
	if err := unix.Chdir("/"); err != nil {
		log.Warn().Err(err).Msg("chdir after chroot")
	}
	conf.ChrootDir = "/"
	log.Info().Str("dir", dir).Msg("chrooted")
}

func run(args []string, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "mimino: %v\n", err)
		return 2
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).
		Level(o.level()).
		With().Timestamp().Logger()

	if o.chroot {
		confine(&o.conf, log)
	}

	srv, err := server.New(o.conf, log)
	if err != nil {
		log.Error().Err(err).Msg("start")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("run")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}
