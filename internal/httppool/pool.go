/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Shared HTTP connection pool with per-backend configuration
             and connection reuse metrics, centralizing transport
             creation so the LLM client and the shopping aggregator
             client don't each spin up an isolated pool.
Root Cause:  Sprint task Q009 — shared outbound connection pooling.
Context:     Every outbound call in the pipeline (LLM, aggregator,
             store pages) benefits from connection reuse; one pool
             manager serves all of them keyed by backend name.
Suitability: L3 for connection pool design with concurrency.
──────────────────────────────────────────────────────────────
*/

package httppool

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	ForceHTTP2          bool
}

func DefaultConfig() Config {
	return Config{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		ForceHTTP2:          true,
	}
}

type Metrics struct {
	ActiveConnections sync.Map // map[string]*int64
	TotalRequests     sync.Map
	TotalErrors       sync.Map
	ConnectionReuses  sync.Map
}

// Pool manages shared HTTP transports and clients keyed by backend name
// ("anthropic", "openai", "aggregator", "fipe").
type Pool struct {
	mu         sync.RWMutex
	transports map[string]*http.Transport
	clients    map[string]*http.Client
	configs    map[string]Config
	defaults   Config
	metrics    *Metrics
}

func New(defaults Config) *Pool {
	return &Pool{
		transports: make(map[string]*http.Transport),
		clients:    make(map[string]*http.Client),
		configs:    make(map[string]Config),
		defaults:   defaults,
		metrics:    &Metrics{},
	}
}

func (p *Pool) Configure(backend string, cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[backend] = cfg
	delete(p.transports, backend)
	delete(p.clients, backend)
}

func (p *Pool) GetClient(backend string, timeout time.Duration) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[backend]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[backend]; ok {
		return c
	}

	cfg := p.configFor(backend)
	transport := p.createTransport(cfg)
	p.transports[backend] = transport

	client := &http.Client{
		Transport: &metricsRoundTripper{inner: transport, backend: backend, metrics: p.metrics},
		Timeout:   timeout,
	}
	p.clients[backend] = client
	return client
}

func (p *Pool) Metrics() map[string]map[string]int64 {
	result := make(map[string]map[string]int64)
	collect := func(store *sync.Map, field string) {
		store.Range(func(key, value any) bool {
			name := key.(string)
			if _, ok := result[name]; !ok {
				result[name] = make(map[string]int64)
			}
			result[name][field] = atomic.LoadInt64(value.(*int64))
			return true
		})
	}
	collect(&p.metrics.TotalRequests, "total_requests")
	collect(&p.metrics.TotalErrors, "total_errors")
	collect(&p.metrics.ActiveConnections, "active_connections")
	collect(&p.metrics.ConnectionReuses, "connection_reuses")
	return result
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}

func (p *Pool) configFor(backend string) Config {
	if cfg, ok := p.configs[backend]; ok {
		return cfg
	}
	return p.defaults
}

func (p *Pool) createTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	t := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}
	if cfg.ForceHTTP2 {
		t.TLSClientConfig = &tls.Config{NextProtos: []string{"h2", "http/1.1"}, MinVersion: tls.VersionTLS12}
		t.ForceAttemptHTTP2 = true
	}
	return t
}

type metricsRoundTripper struct {
	inner   http.RoundTripper
	backend string
	metrics *Metrics
}

func (m *metricsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	active := counter(&m.metrics.ActiveConnections, m.backend)
	atomic.AddInt64(active, 1)
	defer atomic.AddInt64(active, -1)

	atomic.AddInt64(counter(&m.metrics.TotalRequests, m.backend), 1)

	resp, err := m.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(counter(&m.metrics.TotalErrors, m.backend), 1)
		return nil, err
	}
	if !resp.Close {
		atomic.AddInt64(counter(&m.metrics.ConnectionReuses, m.backend), 1)
	}
	return resp, nil
}

func counter(store *sync.Map, key string) *int64 {
	if v, ok := store.Load(key); ok {
		return v.(*int64)
	}
	c := new(int64)
	actual, _ := store.LoadOrStore(key, c)
	return actual.(*int64)
}
