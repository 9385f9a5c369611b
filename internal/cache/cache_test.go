package cache

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

	"github.com/miradorstack/mirador-incident/internal/config"
)

func TestLRUProviderRoundTrip(t *testing.T) {
	p, err := NewLRUProvider(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "a", []byte("alpha"), 0))
	got, err := p.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	got[0] = 'X'
	again, _ := p.Get(ctx, "a")
	assert.Equal(t, "alpha", string(again), "stored bytes must not alias caller slices")

	require.NoError(t, p.Del(ctx, "a"))
	_, err = p.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLRUProviderExpiry(t *testing.T) {
	p, err := NewLRUProvider(4)
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Set(context.Background(), "k", []byte("v"), time.Minute))
	now = now.Add(2 * time.Minute)
	_, err = p.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLRUProviderEvictsOldest(t *testing.T) {
	p, err := NewLRUProvider(2)
	require.NoError(t, err)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, p.Set(ctx, k, []byte(k), 0))
	}
	_, err = p.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = p.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	require.NoError(t, p.Set(context.Background(), "k", []byte("v"), 0))
	_, err := p.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

// fakeValkey answers PING, AUTH, SELECT, GET, SET and DEL from a map.
type fakeValkey struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string
	cmds []string
}

func startFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeValkey{ln: ln, data: map[string]string{}}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	for {
		args, err := readCommand(rd)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.cmds = append(f.cmds, strings.ToUpper(args[0]))
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "AUTH", "SELECT":
			reply = "+OK\r\n"
		case "SET":
			f.data[args[1]] = args[2]
			reply = "+OK\r\n"
		case "GET":
			if v, ok := f.data[args[1]]; ok {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
			} else {
				reply = "$-1\r\n"
			}
		case "DEL":
			delete(f.data, args[1])
			reply = ":1\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(rd *bufio.Reader) ([]string, error) {
	header, err := rd.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sizeLine, err := rd.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(sizeLine[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t)
	p, err := NewValkeyProvider(config.CacheConfig{Addr: srv.ln.Addr().String(), Password: "secret", DB: 2})
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte("{\n    \"scan_id\": \"abc\"\n}")
	require.NoError(t, p.Set(ctx, "artifact:ml_results", payload, time.Minute))
	got, err := p.Get(ctx, "artifact:ml_results")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, p.Del(ctx, "artifact:ml_results"))
	_, err = p.Get(ctx, "artifact:ml_results")
	assert.ErrorIs(t, err, ErrCacheMiss)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.cmds, "AUTH")
	assert.Contains(t, srv.cmds, "SELECT")
}

func TestNewFallsBackToLRU(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := New(config.CacheConfig{Enabled: true, Addr: addr, DialTimeout: 100 * time.Millisecond, LRUSize: 8}, nil)
	_, ok := p.(*LRUProvider)
	assert.True(t, ok, "unreachable valkey should fall back to the in-process LRU")
}
