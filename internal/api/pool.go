package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Pool hands out long-lived clients keyed by connection identity. All pooled
// clients share one HTTP transport and the options' rate limiter.
type Pool struct {
	mu      sync.Mutex
	clients *cache.Cache
	opts    Options
}

func NewPool(ttl time.Duration, opts Options) *Pool {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts)
	}
	return &Pool{
		clients: cache.New(ttl, 2*ttl),
		opts:    opts,
	}
}

// Client returns the cached client for conn, creating it on first use.
func (p *Pool) Client(conn Connection) (*Client, error) {
	key := poolKey(conn)
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.clients.Get(key); ok {
		return cached.(*Client), nil
	}
	client, err := NewClient(conn, p.opts)
	if err != nil {
		return nil, err
	}
	p.clients.SetDefault(key, client)
	return client, nil
}

func (p *Pool) Len() int {
	return p.clients.ItemCount()
}

func (p *Pool) HTTPClient() *http.Client {
	return p.opts.HTTPClient
}

func poolKey(conn Connection) string {
	sum := sha256.Sum256([]byte(conn.PAT))
	return strings.Join([]string{
		strings.ToLower(conn.OrganizationURL()),
		strings.ToLower(conn.Project),
		hex.EncodeToString(sum[:]),
	}, "|")
}
