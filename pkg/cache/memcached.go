package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	DefaultMemcachedHost = "127.0.0.1"
	DefaultMemcachedPort = 11211
)

var (
	ErrNoMemcachedServers     = errors.New("at least one memcached server is required")
	ErrInvalidMemcachedServer = errors.New("invalid memcached server")
)

// MemcachedServer is a single memcached endpoint. Keys are distributed across
// servers in proportion to Weight.
type MemcachedServer struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Weight int    `mapstructure:"weight"`
}

// Returns the host:port form of the server address.
func (s MemcachedServer) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MemcachedConfig holds the connection settings of a MemcachedCache.
type MemcachedConfig struct {
	Servers []MemcachedServer
	// Socket read/write timeout; zero uses the client default.
	Timeout time.Duration
	// Idle connections kept per server; zero uses the client default.
	MaxIdleConns int
	// Applied to every SetValue; zero means the entry never expires.
	Expiration time.Duration
}

// Returns a configuration for a single local memcached instance on the
// standard port.
func DefaultMemcachedConfig() MemcachedConfig {
	return MemcachedConfig{
		Servers: []MemcachedServer{
			{
				Host:   DefaultMemcachedHost,
				Port:   DefaultMemcachedPort,
				Weight: 1,
			},
		},
	}
}

// Validate checks the server list and durations.
func (c MemcachedConfig) Validate() error {
	if len(c.Servers) == 0 {
		return ErrNoMemcachedServers
	}
	for _, server := range c.Servers {
		if server.Host == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidMemcachedServer)
		}
		if server.Port <= 0 || server.Port > math.MaxUint16 {
			return fmt.Errorf("%w: port %d out of range for %s", ErrInvalidMemcachedServer, server.Port, server.Host)
		}
		if server.Weight < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidMemcachedServer, server.Address())
		}
	}
	if c.Timeout < 0 || c.Expiration < 0 {
		return fmt.Errorf("%w: timeout and expiration must not be negative", ErrInvalidMemcachedServer)
	}
	return nil
}

// The address list handed to the client; an address appears once per unit of
// weight, a weight of zero counts as one.
func (c MemcachedConfig) addresses() []string {
	addresses := make([]string, 0, len(c.Servers))
	for _, server := range c.Servers {
		weight := server.Weight
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			addresses = append(addresses, server.Address())
		}
	}
	return addresses
}

// Each distinct server address in configuration order, regardless of weight.
func (c MemcachedConfig) uniqueAddresses() []string {
	seen := make(map[string]struct{}, len(c.Servers))
	addresses := make([]string, 0, len(c.Servers))
	for _, server := range c.Servers {
		address := server.Address()
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		addresses = append(addresses, address)
	}
	return addresses
}

// weightedServerList picks servers from the weighted address list, but Each
// visits every server once so FlushAll sends a single flush_all per server.
type weightedServerList struct {
	memcache.ServerList
	unique memcache.ServerList
}

func newWeightedServerList(config MemcachedConfig) (*weightedServerList, error) {
	servers := &weightedServerList{}
	if err := servers.SetServers(config.addresses()...); err != nil {
		return nil, fmt.Errorf("failed to resolve memcached servers: %w", err)
	}
	if err := servers.unique.SetServers(config.uniqueAddresses()...); err != nil {
		return nil, fmt.Errorf("failed to resolve memcached servers: %w", err)
	}
	return servers, nil
}

func (w *weightedServerList) Each(f func(net.Addr) error) error {
	return w.unique.Each(f) //nolint:wrapcheck // Errors come from f
}

// Parses a host[:port[:weight]] server specification. A missing port defaults
// to 11211 and a missing weight to 1; IPv6 hosts must be bracketed.
func ParseMemcachedServer(entry string) (MemcachedServer, error) {
	server := MemcachedServer{
		Port:   DefaultMemcachedPort,
		Weight: 1,
	}
	var parts []string
	if strings.HasPrefix(entry, "[") {
		end := strings.Index(entry, "]")
		if end < 0 {
			return server, fmt.Errorf("%w: unterminated IPv6 host in %q", ErrInvalidMemcachedServer, entry)
		}
		parts = []string{entry[1:end]}
		if rest := entry[end+1:]; rest != "" {
			if !strings.HasPrefix(rest, ":") {
				return server, fmt.Errorf("%w: unexpected %q after host in %q", ErrInvalidMemcachedServer, rest, entry)
			}
			parts = append(parts, strings.Split(rest[1:], ":")...)
		}
	} else {
		parts = strings.Split(entry, ":")
	}
	if len(parts) > 3 {
		return server, fmt.Errorf("%w: too many fields in %q", ErrInvalidMemcachedServer, entry)
	}
	server.Host = parts[0]
	if server.Host == "" {
		return server, fmt.Errorf("%w: empty host in %q", ErrInvalidMemcachedServer, entry)
	}
	var err error
	if len(parts) > 1 {
		if server.Port, err = strconv.Atoi(parts[1]); err != nil {
			return server, fmt.Errorf("%w: port in %q: %w", ErrInvalidMemcachedServer, entry, err)
		}
	}
	if len(parts) > 2 {
		if server.Weight, err = strconv.Atoi(parts[2]); err != nil {
			return server, fmt.Errorf("%w: weight in %q: %w", ErrInvalidMemcachedServer, entry, err)
		}
	}
	return server, nil
}

// The subset of *memcache.Client used by MemcachedCache.
type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	FlushAll() error
}

// MemcachedCache implements Cache interface backed by one or more memcached
// servers.
type MemcachedCache struct {
	client     memcacheClient
	expiration time.Duration
	now        func() time.Time
}

// Return a new Cache implementation using memcached. Server addresses are
// resolved once, here.
func NewMemcachedCache(config MemcachedConfig) (*MemcachedCache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	servers, err := newWeightedServerList(config)
	if err != nil {
		return nil, err
	}
	client := memcache.NewFromSelector(servers)
	if config.Timeout > 0 {
		client.Timeout = config.Timeout
	}
	if config.MaxIdleConns > 0 {
		client.MaxIdleConns = config.MaxIdleConns
	}
	return &MemcachedCache{
		client:     client,
		expiration: config.Expiration,
		now:        time.Now,
	}, nil
}

// Longest expiration memcached accepts as relative seconds; larger values are
// read as an absolute unix time.
const maxRelativeExpiration = 30 * 24 * time.Hour

// memcached takes whole seconds; anything shorter rounds up to one second so a
// requested expiry is never silently dropped.
func (m *MemcachedCache) itemExpiration() int32 {
	if m.expiration <= 0 {
		return 0
	}
	if m.expiration > maxRelativeExpiration {
		deadline := m.now().Add(m.expiration).Unix()
		if deadline > math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(deadline)
	}
	return int32((m.expiration + time.Second - 1) / time.Second)
}

// Returns the string value stored in memcached under key, if present, or an
// empty string.
func (m *MemcachedCache) GetValue(ctx context.Context, key string) (string, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		// A cache miss is *NOT* an error to propagate
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memcached get %s failed: %w", key, err)
	}
	return string(item.Value), nil
}

// Store the string key:value pair in memcached.
func (m *MemcachedCache) SetValue(ctx context.Context, key string, value string) error {
	if err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      []byte(value),
		Expiration: m.itemExpiration(),
	}); err != nil {
		return fmt.Errorf("memcached set %s failed: %w", key, err)
	}
	return nil
}

// Invalidate every item on every configured server.
func (m *MemcachedCache) Flush(ctx context.Context) error {
	if err := m.client.FlushAll(); err != nil {
		return fmt.Errorf("memcached flush_all failed: %w", err)
	}
	return nil
}
