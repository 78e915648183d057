package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"upsync/pkg/logger"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultProbeFailures = 2
)

// ProberOptions configures a Prober. Zero values take the defaults above.
type ProberOptions struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Failures int
}

// Prober derives connectivity from periodic GET probes against a health
// URL. One successful probe flips online; Failures consecutive failed
// probes flip offline. The prober starts optimistic (online) so early
// enqueues are not held back before the first probe lands.
type Prober struct {
	notifier

	url      string
	interval time.Duration
	timeout  time.Duration
	failures int

	client *fasthttp.Client

	startOnce sync.Once
	stop      chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

func NewProber(opts ProberOptions) *Prober {
	p := &Prober{
		url:      opts.URL,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		failures: opts.Failures,
		client:   &fasthttp.Client{},
		stop:     make(chan struct{}),
	}
	if p.interval <= 0 {
		p.interval = DefaultProbeInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProbeTimeout
	}
	if p.failures <= 0 {
		p.failures = DefaultProbeFailures
	}
	p.online = true
	return p
}

// Start launches the probe loop. The first probe fires immediately.
func (p *Prober) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()
	consec := 0
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		if p.probe() {
			consec = 0
			p.set(true)
		} else {
			consec++
			if consec >= p.failures {
				p.set(false)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-tick.C:
		}
	}
}

func (p *Prober) probe() bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(p.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := p.client.DoTimeout(req, resp, p.timeout); err != nil {
		logger.Debug("probe_failed", "url", p.url, "error", err)
		return false
	}
	code := resp.StatusCode()
	// any response below 500 proves the upstream is reachable
	return code >= 200 && code < 500
}

// Close stops the probe loop. Safe to call more than once.
func (p *Prober) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)
	p.wg.Wait()
}
