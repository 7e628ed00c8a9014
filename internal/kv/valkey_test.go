package kv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeValkey speaks just enough RESP2 for the backend under test.
type fakeValkey struct {
	t        *testing.T
	listener net.Listener
	password string

	mu       sync.Mutex
	data     map[string]string
	ttls     map[string]string
	commands []string
	conns    int
}

func newFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeValkey{t: t, listener: lis, password: password, data: map[string]string{}, ttls: map[string]string{}}
	go f.serve()
	t.Cleanup(func() { _ = lis.Close() })
	return f
}

func (f *fakeValkey) addr() string { return f.listener.Addr().String() }

func (f *fakeValkey) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		if !authed && cmd != "AUTH" {
			fmt.Fprint(conn, "-NOAUTH Authentication required.\r\n")
			continue
		}

		switch cmd {
		case "AUTH":
			if args[len(args)-1] != f.password {
				fmt.Fprint(conn, "-WRONGPASS invalid password\r\n")
				continue
			}
			authed = true
			fmt.Fprint(conn, "+OK\r\n")
		case "PING":
			fmt.Fprint(conn, "+PONG\r\n")
		case "SELECT":
			fmt.Fprint(conn, "+OK\r\n")
		case "GET":
			f.mu.Lock()
			v, ok := f.data[args[1]]
			f.mu.Unlock()
			if !ok {
				fmt.Fprint(conn, "$-1\r\n")
				continue
			}
			fmt.Fprintf(conn, "$%d\r\n%s\r\n", len(v), v)
		case "SET":
			f.mu.Lock()
			f.data[args[1]] = args[2]
			if len(args) == 5 && strings.EqualFold(args[3], "PX") {
				f.ttls[args[1]] = args[4]
			}
			f.mu.Unlock()
			fmt.Fprint(conn, "+OK\r\n")
		case "DEL":
			f.mu.Lock()
			delete(f.data, args[1])
			f.mu.Unlock()
			fmt.Fprint(conn, ":1\r\n")
		default:
			fmt.Fprintf(conn, "-ERR unknown command '%s'\r\n", cmd)
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyBackendRoundTrip(t *testing.T) {
	server := newFakeValkey(t, "secret")
	ctx := context.Background()

	backend, err := NewValkeyBackend(ctx, ValkeyConfig{Addr: server.addr(), Password: "secret", DB: 2})
	require.NoError(t, err)
	defer backend.Close()

	_, err = backend.Get(ctx, "incident:abc")
	assert.ErrorIs(t, err, ErrMiss)

	payload := `{"status":"identified","timestamp":"2024-01-01T00:00:00Z"}`
	require.NoError(t, backend.Set(ctx, "incident:abc", []byte(payload), 30*24*time.Hour))

	got, err := backend.Get(ctx, "incident:abc")
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(got))

	server.mu.Lock()
	assert.Equal(t, strconv.FormatInt((30 * 24 * time.Hour).Milliseconds(), 10), server.ttls["incident:abc"])
	assert.Contains(t, server.commands, "SELECT")
	server.mu.Unlock()

	require.NoError(t, backend.Del(ctx, "incident:abc"))
	_, err = backend.Get(ctx, "incident:abc")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestValkeyBackendReusesConnections(t *testing.T) {
	server := newFakeValkey(t, "")
	ctx := context.Background()

	backend, err := NewValkeyBackend(ctx, ValkeyConfig{Addr: server.addr()})
	require.NoError(t, err)
	defer backend.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, backend.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, 1, server.conns)
	assert.Empty(t, server.ttls)
}

func TestValkeyBackendRejectsBadPassword(t *testing.T) {
	server := newFakeValkey(t, "secret")

	_, err := NewValkeyBackend(context.Background(), ValkeyConfig{Addr: server.addr(), Password: "nope"})
	require.Error(t, err)
	var serverErr *ServerError
	assert.ErrorAs(t, err, &serverErr)
}

func TestValkeyBackendRequiresAddr(t *testing.T) {
	_, err := NewValkeyBackend(context.Background(), ValkeyConfig{})
	assert.Error(t, err)
}
