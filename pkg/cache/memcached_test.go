package cache

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/google/go-cmp/cmp"
)

var errServerError = errors.New("memcache: server error")

// fakeMemcacheClient stands in for *memcache.Client and counts calls.
type fakeMemcacheClient struct {
	items    map[string]*memcache.Item
	gets     int
	sets     []*memcache.Item
	flushes  int
	failWith error
}

func newFakeMemcacheClient() *fakeMemcacheClient {
	return &fakeMemcacheClient{items: map[string]*memcache.Item{}}
}

func (f *fakeMemcacheClient) Get(key string) (*memcache.Item, error) {
	f.gets++
	if f.failWith != nil {
		return nil, f.failWith
	}
	item, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (f *fakeMemcacheClient) Set(item *memcache.Item) error {
	f.sets = append(f.sets, item)
	if f.failWith != nil {
		return f.failWith
	}
	f.items[item.Key] = item
	return nil
}

func (f *fakeMemcacheClient) FlushAll() error {
	f.flushes++
	if f.failWith != nil {
		return f.failWith
	}
	f.items = map[string]*memcache.Item{}
	return nil
}

func newTestMemcachedCache(client memcacheClient, expiration time.Duration) *MemcachedCache {
	return &MemcachedCache{
		client:     client,
		expiration: expiration,
		now: func() time.Time {
			return time.Unix(1_700_000_000, 0)
		},
	}
}

func TestMemcachedCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeMemcacheClient()
	cache := newTestMemcachedCache(client, 0)
	actual, err := cache.GetValue(ctx, "3858f62230ac3c915f300c664312c63f")
	if err != nil {
		t.Errorf("GetValue returned an error on a miss: %v", err)
	}
	if actual != "" {
		t.Errorf("Expected a miss, received %s", actual)
	}
	if err = cache.SetValue(ctx, "3858f62230ac3c915f300c664312c63f", `{"query":"bar"}`); err != nil {
		t.Fatalf("SetValue returned an error: %v", err)
	}
	if len(client.sets) != 1 {
		t.Fatalf("Expected exactly one Set call, got %d", len(client.sets))
	}
	if client.sets[0].Expiration != 0 {
		t.Errorf("Expected no expiration, got %d", client.sets[0].Expiration)
	}
	actual, err = cache.GetValue(ctx, "3858f62230ac3c915f300c664312c63f")
	if err != nil {
		t.Errorf("GetValue returned an error: %v", err)
	}
	if actual != `{"query":"bar"}` {
		t.Errorf("Unexpected value %s", actual)
	}
	if err = cache.Flush(ctx); err != nil {
		t.Errorf("Flush returned an error: %v", err)
	}
	if client.flushes != 1 {
		t.Errorf("Expected exactly one FlushAll call, got %d", client.flushes)
	}
	if actual, _ = cache.GetValue(ctx, "3858f62230ac3c915f300c664312c63f"); actual != "" {
		t.Errorf("Expected a miss after flush, received %s", actual)
	}
}

func TestMemcachedCache_Errors(t *testing.T) {
	ctx := context.Background()
	client := newFakeMemcacheClient()
	client.failWith = errServerError
	cache := newTestMemcachedCache(client, 0)
	if _, err := cache.GetValue(ctx, "key"); !errors.Is(err, errServerError) {
		t.Errorf("Expected GetValue to return the client error, got %v", err)
	}
	if err := cache.SetValue(ctx, "key", "value"); !errors.Is(err, errServerError) {
		t.Errorf("Expected SetValue to return the client error, got %v", err)
	}
	if err := cache.Flush(ctx); !errors.Is(err, errServerError) {
		t.Errorf("Expected Flush to return the client error, got %v", err)
	}
	if client.gets != 1 || len(client.sets) != 1 || client.flushes != 1 {
		t.Errorf("Expected one attempt per call, got %d gets %d sets %d flushes", client.gets, len(client.sets), client.flushes)
	}
}

func TestMemcachedCache_Expiration(t *testing.T) {
	tests := []struct {
		name       string
		expiration time.Duration
		expected   int32
	}{
		{name: "none", expiration: 0, expected: 0},
		{name: "sub-second", expiration: 10 * time.Millisecond, expected: 1},
		{name: "seconds", expiration: 90 * time.Second, expected: 90},
		{name: "thirty days", expiration: maxRelativeExpiration, expected: 2_592_000},
		{name: "absolute", expiration: 60 * 24 * time.Hour, expected: 1_700_000_000 + 5_184_000},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			client := newFakeMemcacheClient()
			cache := newTestMemcachedCache(client, test.expiration)
			if err := cache.SetValue(context.Background(), "key", "value"); err != nil {
				t.Fatalf("SetValue returned an error: %v", err)
			}
			if actual := client.sets[0].Expiration; actual != test.expected {
				t.Errorf("Expected expiration %d got %d", test.expected, actual)
			}
		})
	}
}

func TestParseMemcachedServer(t *testing.T) {
	tests := []struct {
		entry     string
		expected MemcachedServer
	}{
		{entry: "localhost", expected: MemcachedServer{Host: "localhost", Port: 11211, Weight: 1}},
		{entry: "cache-1:11212", expected: MemcachedServer{Host: "cache-1", Port: 11212, Weight: 1}},
		{entry: "10.0.0.5:11211:3", expected: MemcachedServer{Host: "10.0.0.5", Port: 11211, Weight: 3}},
		{entry: "[::1]", expected: MemcachedServer{Host: "::1", Port: 11211, Weight: 1}},
		{entry: "[::1]:11213:2", expected: MemcachedServer{Host: "::1", Port: 11213, Weight: 2}},
	}
	for _, test := range tests {
		test := test
		t.Run(test.entry, func(t *testing.T) {
			actual, err := ParseMemcachedServer(test.entry)
			if err != nil {
				t.Fatalf("ParseMemcachedServer returned an error: %v", err)
			}
			if diff := cmp.Diff(test.expected, actual); diff != "" {
				t.Errorf("ParseMemcachedServer mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseMemcachedServer_Invalid(t *testing.T) {
	for _, entry := range []string{"", ":11211", "host:port", "host:11211:heavy", "::1", "[::1", "[::1]11211", "a:1:2:3"} {
		entry := entry
		t.Run(entry, func(t *testing.T) {
			if _, err := ParseMemcachedServer(entry); !errors.Is(err, ErrInvalidMemcachedServer) {
				t.Errorf("Expected ErrInvalidMemcachedServer for %q, got %v", entry, err)
			}
		})
	}
}

func TestMemcachedConfig(t *testing.T) {
	config := DefaultMemcachedConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Default config is invalid: %v", err)
	}
	if diff := cmp.Diff([]string{"127.0.0.1:11211"}, config.addresses()); diff != "" {
		t.Errorf("Default addresses mismatch (-want +got):\n%s", diff)
	}
	config.Servers = []MemcachedServer{
		{Host: "a", Port: 11211, Weight: 2},
		{Host: "b", Port: 11212},
	}
	if diff := cmp.Diff([]string{"a:11211", "a:11211", "b:11212"}, config.addresses()); diff != "" {
		t.Errorf("Weighted addresses mismatch (-want +got):\n%s", diff)
	}
	for name, invalid := range map[string]MemcachedConfig{
		"no servers":     {},
		"no host":        {Servers: []MemcachedServer{{Port: 11211}}},
		"bad port":       {Servers: []MemcachedServer{{Host: "a", Port: 70000}}},
		"negative":       {Servers: []MemcachedServer{{Host: "a", Port: 11211, Weight: -1}}},
		"negative ttl":   {Servers: DefaultMemcachedConfig().Servers, Expiration: -time.Second},
		"negative delay": {Servers: DefaultMemcachedConfig().Servers, Timeout: -time.Second},
	} {
		if err := invalid.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
	if _, err := NewMemcachedCache(MemcachedConfig{}); !errors.Is(err, ErrNoMemcachedServers) {
		t.Errorf("Expected ErrNoMemcachedServers, got %v", err)
	}
}

func TestNewMemcachedCache(t *testing.T) {
	config := DefaultMemcachedConfig()
	config.Timeout = 250 * time.Millisecond
	config.MaxIdleConns = 4
	cache, err := NewMemcachedCache(config)
	if err != nil {
		t.Fatalf("NewMemcachedCache returned an error: %v", err)
	}
	client, ok := cache.client.(*memcache.Client)
	if !ok {
		t.Fatalf("Expected a *memcache.Client, got %T", cache.client)
	}
	if client.Timeout != config.Timeout || client.MaxIdleConns != config.MaxIdleConns {
		t.Errorf("Client settings not applied: timeout %v idle %d", client.Timeout, client.MaxIdleConns)
	}
}

func TestMemcachedConfig_UniqueAddresses(t *testing.T) {
	config := MemcachedConfig{
		Servers: []MemcachedServer{
			{Host: "127.0.0.1", Port: 11211, Weight: 3},
			{Host: "127.0.0.2", Port: 11211},
			{Host: "127.0.0.1", Port: 11211, Weight: 2},
		},
	}
	if diff := cmp.Diff([]string{"127.0.0.1:11211", "127.0.0.2:11211"}, config.uniqueAddresses()); diff != "" {
		t.Errorf("Unique addresses mismatch (-want +got):\n%s", diff)
	}
	servers, err := newWeightedServerList(config)
	if err != nil {
		t.Fatalf("newWeightedServerList returned an error: %v", err)
	}
	visited := []string{}
	if err = servers.Each(func(addr net.Addr) error {
		visited = append(visited, addr.String())
		return nil
	}); err != nil {
		t.Errorf("Each returned an error: %v", err)
	}
	if diff := cmp.Diff([]string{"127.0.0.1:11211", "127.0.0.2:11211"}, visited); diff != "" {
		t.Errorf("Each visited mismatch (-want +got):\n%s", diff)
	}
	if _, err = servers.PickServer("3858f62230ac3c915f300c664312c63f"); err != nil {
		t.Errorf("PickServer returned an error: %v", err)
	}
}

// Accepts memcached connections and answers flush_all, counting each one.
func newFlushCountingServer(t *testing.T) (MemcachedServer, *atomic.Int64) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	var flushes atomic.Int64
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					if strings.HasPrefix(line, "flush_all") {
						flushes.Add(1)
					}
					if _, err = conn.Write([]byte("OK\r\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("Unexpected listener address %T", listener.Addr())
	}
	return MemcachedServer{Host: addr.IP.String(), Port: addr.Port, Weight: 3}, &flushes
}

func TestMemcachedCache_FlushWeightedServer(t *testing.T) {
	server, flushes := newFlushCountingServer(t)
	cache, err := NewMemcachedCache(MemcachedConfig{
		Servers: []MemcachedServer{server},
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewMemcachedCache returned an error: %v", err)
	}
	if err = cache.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned an error: %v", err)
	}
	if actual := flushes.Load(); actual != 1 {
		t.Errorf("Expected one flush_all for a weighted server, got %d", actual)
	}
}
