// low level socket bootstrap: listening, accepting and fd limits
package sock

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

const (
	backlog = 128 // backlog for listening

	// FallbackMaxFds is used when RLIMIT_NOFILE can't be read
	FallbackMaxFds = 10000
)

// Listen creates a nonblocking TCP socket, binds it to host:port and starts listening.
// An empty host means all interfaces, port 0 picks a free port.
func Listen(host string, port int) (int, error) {
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return -1, err
	}

	// SOCK_STREAM = TCP
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil { // bind socket to addr:port
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", netip.AddrPortFrom(addrOf(sa), uint16(port)), err)
	}
	if err := unix.Listen(fd, backlog); err != nil { // start listening on addr:port
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

func sockaddr(host string, port int) (unix.Sockaddr, int, error) {
	if port < 0 || port > 0xffff {
		return nil, 0, fmt.Errorf("invalid port %d", port)
	}
	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid address %q: %w", host, err)
	}
	if ip.Is4() || ip.Is4In6() {
		return &unix.SockaddrInet4{Port: port, Addr: ip.Unmap().As4()}, unix.AF_INET, nil
	}
	return &unix.SockaddrInet6{Port: port, Addr: ip.As16()}, unix.AF_INET6, nil
}

func addrOf(sa unix.Sockaddr) netip.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(sa.Addr)
	case *unix.SockaddrInet6:
		return netip.AddrFrom16(sa.Addr)
	}
	return netip.Addr{}
}

// LocalAddr returns the address fd is bound to.
func LocalAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("getsockname: unexpected address family")
}

// Accept takes one pending connection off the listener.
// The new socket is already nonblocking. EAGAIN means nothing is pending.
func Accept(lfd int) (int, netip.AddrPort, error) {
	nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	var peer netip.AddrPort
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		peer = netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		peer = netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	return nfd, peer, nil
}

// MaxFds raises the soft RLIMIT_NOFILE to the hard limit and returns the result.
// If the limit can't be read it returns FallbackMaxFds.
func MaxFds() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return FallbackMaxFds
	}
	if rlim.Cur < rlim.Max {
		raised := rlim
		raised.Cur = rlim.Max
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &raised); err == nil {
			rlim = raised
		}
	}
	if rlim.Cur == unix.RLIM_INFINITY || rlim.Cur > 1<<20 {
		return 1 << 20
	}
	return int(rlim.Cur)
}

// SetSendBuffer caps the kernel send buffer of fd at about n bytes.
// The kernel doubles the value for its own bookkeeping.
func SetSendBuffer(fd, n int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n); err != nil {
		return fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
	}
	return nil
}

// OutOfFds reports whether err from Accept means the process or system fd limit was hit.
func OutOfFds(err error) bool {
	return err == unix.EMFILE || err == unix.ENFILE
}

// Reserve opens a placeholder fd that can be given back when accept runs out of fds.
// It returns -1 if even that fails.
func Reserve() int {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1
	}
	return fd
}
