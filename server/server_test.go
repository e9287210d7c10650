package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nikaoto/mimino/internal/sock"
)

func testServer(t *testing.T, conf Config) *Server {
	t.Helper()
	conf.Addr = "127.0.0.1"
	conf.Port = 0
	conf.PollTimeout = 20 * time.Millisecond

	s, err := New(conf, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func siteRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.html"), []byte(strings.Repeat("m", 100)), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "index.html"), []byte("<p>dir</p>"), 0o644))
	return root
}

type exchange struct {
	req     string
	status  int
	headers map[string]string
	body    string
}

func TestKeepAliveScenarios(t *testing.T) {
	conf := DefaultConfig()
	conf.ServePath = siteRoot(t)
	s := testServer(t, conf)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	steps := []exchange{
		{
			req:     "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n",
			status:  404,
			headers: map[string]string{"Content-Type": "text/plain"},
			body:    "404 not found\n",
		},
		{
			req:     "GET /dir HTTP/1.1\r\nHost: x\r\n\r\n",
			status:  301,
			headers: map[string]string{"Location": "/dir/"},
		},
		{
			req:     "GET /dir/ HTTP/1.1\r\nHost: x\r\n\r\n",
			status:  200,
			headers: map[string]string{"Content-Type": "text/html"},
			body:    "<p>dir</p>",
		},
		{
			req:     "GET /file.html HTTP/1.1\r\nHost: x\r\nRange: bytes=0-4\r\n\r\n",
			status:  206,
			headers: map[string]string{"Content-Range": "bytes 0-4/100", "Content-Length": "5"},
			body:    "mmmmm",
		},
		{
			req:     "GET /file.html HTTP/1.1\r\nHost: x\r\nRange: bytes=100-200\r\n\r\n",
			status:  416,
			headers: map[string]string{"Content-Range": "bytes */100"},
		},
		{
			req:    "GET /../etc/passwd HTTP/1.1\r\nHost: x\r\n\r\n",
			status: 403,
		},
	}

	for _, st := range steps {
		t.Run(strings.Fields(st.req)[1], func(t *testing.T) {
			_, err := conn.Write([]byte(st.req))
			require.NoError(t, err)

			resp, err := http.ReadResponse(br, nil)
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, st.status, resp.StatusCode)
			for k, v := range st.headers {
				assert.Equal(t, v, resp.Header.Get(k), k)
			}
			if st.body != "" {
				assert.Equal(t, st.body, string(body))
			}
			assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))
		})
	}

	assert.Eventually(t, func() bool {
		return s.Stats().Served == uint64(len(steps))
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, s.Stats().Accepted)
}

func TestRequestBodyNotServed(t *testing.T) {
	conf := DefaultConfig()
	conf.ServePath = siteRoot(t)
	s := testServer(t, conf)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// the body is a complete request of its own
	hidden := "GET /file.html HTTP/1.1\r\nHost: x\r\n\r\n"
	_, err = conn.Write([]byte("POST /file.html HTTP/1.1\r\nHost: x\r\nContent-Length: " +
		strconv.Itoa(len(hidden)) + "\r\n\r\n" + hidden))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 405, resp.StatusCode)
	assert.Equal(t, "GET, HEAD", resp.Header.Get("Allow"))
	assert.Equal(t, "405 method not allowed\n", string(body))
	assert.Equal(t, "close", resp.Header.Get("Connection"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	rest, err := io.ReadAll(br)
	if err != nil {
		// a reset from the unread body is fine too
		assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
	}
	assert.Empty(t, rest)
	assert.Eventually(t, func() bool {
		return s.Stats().Served == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHeadMatchesGet(t *testing.T) {
	conf := DefaultConfig()
	conf.ServePath = siteRoot(t)
	s := testServer(t, conf)

	raw := func(method string) string {
		conn, err := net.Dial("tcp", s.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.Write([]byte(method + " /file.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		out, err := io.ReadAll(conn)
		require.NoError(t, err)
		return string(out)
	}

	get := raw("GET")
	head := raw("HEAD")

	getHead, getBody, ok := strings.Cut(get, "\r\n\r\n")
	require.True(t, ok)
	assert.Len(t, getBody, 100)
	assert.Equal(t, getHead+"\r\n\r\n", head)
}

func TestPipelined(t *testing.T) {
	conf := DefaultConfig()
	conf.ServePath = siteRoot(t)
	s := testServer(t, conf)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(
		"GET /file.html HTTP/1.1\r\nHost: x\r\nRange: bytes=0-1\r\n\r\n" +
			"GET /dir/ HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	for _, want := range []string{"mm", "<p>dir</p>"} {
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, string(body))
	}

	// server closes after the second response
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOversizedRequest(t *testing.T) {
	conf := DefaultConfig()
	conf.ServePath = siteRoot(t)
	conf.MaxRequestSize = 256
	s := testServer(t, conf)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// exactly the limit, no blank line in sight
	_, err = conn.Write([]byte("GET /" + strings.Repeat("a", 251)))
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.True(t, resp.Close)
}

func TestNewErrors(t *testing.T) {
	conf := DefaultConfig()
	conf.Addr = "127.0.0.1"
	conf.Port = 0

	t.Run("missing root", func(t *testing.T) {
		c := conf
		c.ServePath = filepath.Join(t.TempDir(), "nope")
		_, err := New(c, zerolog.Nop())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("port in use", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()

		c := conf
		c.ServePath = t.TempDir()
		c.Port = l.Addr().(*net.TCPAddr).Port
		_, err = New(c, zerolog.Nop())
		assert.Error(t, err)
	})
}

func TestConfigRoot(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "./", c.Root())
	c.ChrootDir = "/srv/www"
	assert.Equal(t, "/srv/www", c.Root())

	lim := DefaultConfig().limits()
	assert.Positive(t, lim.MaxConns)
	// room for a body file per client
	assert.LessOrEqual(t, 2*lim.MaxConns, sock.MaxFds())
	assert.Equal(t, 64<<10, lim.SendBuffer)
	assert.Equal(t, 8<<10, lim.MaxRequestSize)
}

func TestStopClosesListener(t *testing.T) {
	conf := DefaultConfig()
	conf.Addr = "127.0.0.1"
	conf.Port = 0
	conf.ServePath = t.TempDir()
	conf.PollTimeout = 20 * time.Millisecond

	s, err := New(conf, zerolog.Nop())
	require.NoError(t, err)
	addr := s.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	_, err = net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
	assert.NoError(t, s.Close())
}
