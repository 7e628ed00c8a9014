package kv

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-statuswatch/internal/utils"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	// PoolSize caps idle connections kept for reuse.
	PoolSize int
}

// ValkeyBackend implements Backend over RESP. Connections are pooled because
// batch reads issue one GET per incident concurrently.
type ValkeyBackend struct {
	cfg  ValkeyConfig
	idle chan *respConn
}

// ServerError is an error reply (-ERR ...) sent by the server. The connection
// that produced it stays usable.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "valkey: " + e.Message }

// NewValkeyBackend dials the server once with PING so bad credentials or
// addresses fail at startup rather than on the first run.
func NewValkeyBackend(ctx context.Context, cfg ValkeyConfig) (*ValkeyBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	normaliseValkeyConfig(&cfg)
	b := &ValkeyBackend{cfg: cfg, idle: make(chan *respConn, cfg.PoolSize)}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return b, nil
}

// Ping checks connectivity.
func (b *ValkeyBackend) Ping(ctx context.Context) error {
	return b.do(ctx, func(c *respConn) error {
		reply, err := c.roundTrip("PING")
		if err != nil {
			return err
		}
		if reply.kind != '+' || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", reply.data)
		}
		return nil
	})
}

// Get fetches bytes by key, returning ErrMiss when the key is absent.
func (b *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := b.do(ctx, func(c *respConn) error {
		reply, err := c.roundTrip("GET", key)
		if err != nil {
			return err
		}
		switch {
		case reply.null:
			return ErrMiss
		case reply.kind == '$':
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected reply type %q for GET", reply.kind)
		}
	})
	return payload, err
}

// Set stores bytes, expiring them after ttl when ttl > 0.
func (b *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.do(ctx, func(c *respConn) error {
		args := []string{"SET", key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		reply, err := c.roundTrip(args...)
		if err != nil {
			return err
		}
		if reply.kind != '+' || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %q", reply.data)
		}
		return nil
	})
}

// Del removes a key.
func (b *ValkeyBackend) Del(ctx context.Context, key string) error {
	return b.do(ctx, func(c *respConn) error {
		_, err := c.roundTrip("DEL", key)
		return err
	})
}

// Close drops every idle connection.
func (b *ValkeyBackend) Close() error {
	for {
		select {
		case c := <-b.idle:
			c.close()
		default:
			return nil
		}
	}
}

func (b *ValkeyBackend) do(ctx context.Context, fn func(*respConn) error) error {
	policy := utils.RetryPolicy{
		MaxAttempts: b.cfg.MaxRetries,
		BaseDelay:   25 * time.Millisecond,
		Retryable:   isTransient,
	}
	return policy.Do(ctx, func(ctx context.Context, _ int) error {
		c, err := b.acquire(ctx)
		if err != nil {
			return err
		}
		err = fn(c)
		var serverErr *ServerError
		if err == nil || errors.Is(err, ErrMiss) || errors.As(err, &serverErr) {
			b.release(c)
		} else {
			c.close()
		}
		return err
	})
}

func (b *ValkeyBackend) acquire(ctx context.Context) (*respConn, error) {
	select {
	case c := <-b.idle:
		return c, nil
	default:
	}

	c, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.handshake(c); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (b *ValkeyBackend) release(c *respConn) {
	select {
	case b.idle <- c:
	default:
		c.close()
	}
}

func (b *ValkeyBackend) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if b.cfg.TLS {
		tlsDialer := tls.Dialer{
			NetDialer: &dialer,
			Config:    &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(b.cfg.Addr)},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", b.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", b.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  b.cfg.ReadTimeout,
		writeTimeout: b.cfg.WriteTimeout,
	}, nil
}

func (b *ValkeyBackend) handshake(c *respConn) error {
	if b.cfg.Password != "" {
		args := []string{"AUTH", b.cfg.Password}
		if b.cfg.Username != "" {
			args = []string{"AUTH", b.cfg.Username, b.cfg.Password}
		}
		if err := c.expectOK(args...); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if b.cfg.DB > 0 {
		if err := c.expectOK("SELECT", strconv.Itoa(b.cfg.DB)); err != nil {
			return fmt.Errorf("select db %d: %w", b.cfg.DB, err)
		}
	}
	return nil
}

type respReply struct {
	kind byte
	data []byte
	null bool
}

// respConn wraps a network connection with RESP2 helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) roundTrip(args ...string) (respReply, error) {
	if err := c.write(args); err != nil {
		return respReply{}, err
	}
	return c.read()
}

func (c *respConn) expectOK(args ...string) error {
	reply, err := c.roundTrip(args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected %s response: %q", args[0], reply.data)
	}
	return nil
}

func (c *respConn) write(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.writer.Flush()
}

func (c *respConn) read() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := c.readLine()
	if err != nil {
		return respReply{}, err
	}

	switch prefix {
	case '+', ':':
		return respReply{kind: prefix, data: line}, nil
	case '-':
		return respReply{}, &ServerError{Message: string(line)}
	case '_':
		return respReply{kind: prefix, null: true}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, fmt.Errorf("bulk length: %w", err)
		}
		if size < 0 {
			return respReply{kind: prefix, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{kind: prefix, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func normaliseValkeyConfig(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 16
	}
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
