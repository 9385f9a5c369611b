package cache

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

	"github.com/miradorstack/mirador-incident/internal/config"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server over RESP2.
// Each call dials a fresh connection; artifact traffic is a handful of writes per scan.
type ValkeyProvider struct {
	cfg config.CacheConfig
}

// NewValkeyProvider validates the configuration and pings the server.
func NewValkeyProvider(cfg config.CacheConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
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

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.expectStatus(ctx, "PONG", "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(c *respConn) error {
		r, err := c.call("GET", key)
		if err != nil {
			return err
		}
		switch r.kind {
		case '$':
			if r.null {
				return ErrCacheMiss
			}
			payload = r.data
			return nil
		default:
			return fmt.Errorf("unexpected reply %q to GET", r.kind)
		}
	})
	return payload, err
}

// Set stores bytes, expiring after ttl when positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	return p.expectStatus(ctx, "OK", "SET", args...)
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(c *respConn) error {
		_, err := c.call("DEL", key)
		return err
	})
}

// Close is a no-op; connections are per call.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) expectStatus(ctx context.Context, want, cmd string, args ...string) error {
	return p.do(ctx, func(c *respConn) error {
		r, err := c.call(cmd, args...)
		if err != nil {
			return err
		}
		if r.kind != '+' || !strings.EqualFold(string(r.data), want) {
			return fmt.Errorf("unexpected %s reply: %q", cmd, r.data)
		}
		return nil
	})
}

// do runs fn on an authenticated connection, retrying transient network errors.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			time.Sleep(time.Duration(1<<(attempt-1)) * 25 * time.Millisecond)
		}

		c, err := p.connect(ctx)
		if err == nil {
			err = fn(c)
			c.conn.Close()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if !transient(err) {
			return err
		}
	}
	return lastErr
}

func (p *ValkeyProvider) connect(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}

	c := &respConn{conn: conn, rd: bufio.NewReader(conn), cfg: p.cfg}
	if p.cfg.Password != "" {
		auth := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{p.cfg.Username, p.cfg.Password}
		}
		if r, err := c.call("AUTH", auth...); err != nil || r.kind != '+' {
			conn.Close()
			return nil, fmt.Errorf("valkey auth failed: %v", err)
		}
	}
	if p.cfg.DB > 0 {
		if r, err := c.call("SELECT", strconv.Itoa(p.cfg.DB)); err != nil || r.kind != '+' {
			conn.Close()
			return nil, fmt.Errorf("valkey select %d failed: %v", p.cfg.DB, err)
		}
	}
	return c, nil
}

func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type respReply struct {
	kind byte
	data []byte
	null bool
}

type respConn struct {
	conn net.Conn
	rd   *bufio.Reader
	cfg  config.CacheConfig
}

// call writes one command as a RESP array of bulk strings and reads the reply.
func (c *respConn) call(cmd string, args ...string) (respReply, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return respReply{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n$%d\r\n%s\r\n", len(args)+1, len(cmd), cmd)
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	if _, err := io.WriteString(c.conn, b.String()); err != nil {
		return respReply{}, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	return c.read()
}

func (c *respConn) read() (respReply, error) {
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return respReply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return respReply{}, errors.New("empty RESP line")
	}

	kind, body := line[0], line[1:]
	switch kind {
	case '+', ':':
		return respReply{kind: kind, data: []byte(body)}, nil
	case '-':
		return respReply{}, errors.New(body)
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respReply{}, fmt.Errorf("bad bulk length %q", body)
		}
		if size < 0 {
			return respReply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.rd, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk string termination")
		}
		return respReply{kind: kind, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", kind)
	}
}
