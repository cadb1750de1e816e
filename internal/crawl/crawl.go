// Package crawl drives URL fetches through a throttled HTTP client with a
// fixed pool of workers.
package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/common/validation"
	"github.com/vnykmshr/crawlqos/pkg/metrics"
)

// Config holds configuration options for creating a Crawler.
type Config struct {
	// Name labels the crawler in logs and metrics. Defaults to "crawl".
	Name string

	// Client performs the fetches, usually one built by transport.NewClient.
	// Defaults to http.DefaultClient.
	Client *http.Client

	// Workers is the number of concurrent fetches. Must be greater than 0.
	Workers int

	// QueueSize bounds the number of URLs waiting for a worker.
	// Defaults to Workers.
	QueueSize int

	// PerHostRPS limits requests per second to any single host on top of
	// the client's own throttling. Zero disables the limit.
	PerHostRPS float64

	// PerHostBurst is the burst allowed by the per-host limit. Defaults to 1.
	PerHostBurst int

	// Timeout bounds a single fetch including reading the body.
	// Zero means no timeout.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// Logger receives per-fetch output. If nil, logs are discarded.
	Logger *slog.Logger

	// Metrics records fetch metrics. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// Result describes one finished fetch.
type Result struct {
	URL      string
	Status   int
	Bytes    int64
	Duration time.Duration
	WorkerID int
	Err      error
}

// Stats holds crawler counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Bytes     int64
	Active    int64
}

type job struct {
	ctx context.Context
	url string
}

// Crawler fetches submitted URLs and publishes a Result for each.
//
// Results must be drained by the caller; workers block until their result
// is received.
type Crawler struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Registry

	queue   chan job
	results chan Result
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	wg     sync.WaitGroup

	hostMu sync.Mutex
	hosts  map[string]*rate.Limiter

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	bytes     atomic.Int64
	active    atomic.Int64
}

// New creates a Crawler and starts its workers.
func New(config Config) (*Crawler, error) {
	if err := validation.ValidatePositive("crawl", "workers", config.Workers); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("crawl", "per_host_rps", config.PerHostRPS); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "crawl"
	}
	if config.Client == nil {
		config.Client = http.DefaultClient
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers
	}
	if config.PerHostBurst <= 0 {
		config.PerHostBurst = 1
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	c := &Crawler{
		config:  config,
		logger:  config.Logger.With("crawler", config.Name),
		metrics: config.Metrics,
		queue:   make(chan job, config.QueueSize),
		results: make(chan Result, config.Workers),
		done:    make(chan struct{}),
		hosts:   make(map[string]*rate.Limiter),
	}

	c.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go c.worker(i)
	}
	return c, nil
}

// Submit queues rawURL for fetching with ctx. It blocks while the queue is
// full and fails once Shutdown has been called.
func (c *Crawler) Submit(ctx context.Context, rawURL string) error {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return errors.NewOperationError("crawl", "Submit", err).WithContext(rawURL)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.NewOperationError("crawl", "Submit", errors.ErrClosed)
	}

	select {
	case c.queue <- job{ctx: ctx, url: rawURL}:
		c.submitted.Add(1)
		if c.metrics != nil {
			c.metrics.CrawlQueued.WithLabelValues(c.config.Name).Set(float64(len(c.queue)))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel of finished fetches. It is closed after
// Shutdown once every queued URL has been fetched.
func (c *Crawler) Results() <-chan Result {
	return c.results
}

// Shutdown stops accepting URLs. Queued URLs are still fetched. The returned
// channel closes when all workers have exited.
func (c *Crawler) Shutdown() <-chan struct{} {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.queue)
		c.mu.Unlock()

		go func() {
			c.wg.Wait()
			close(c.results)
			close(c.done)
		}()
	})
	return c.done
}

// Stats returns a snapshot of the crawler counters.
func (c *Crawler) Stats() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Bytes:     c.bytes.Load(),
		Active:    c.active.Load(),
	}
}

func (c *Crawler) worker(id int) {
	defer c.wg.Done()
	for j := range c.queue {
		c.results <- c.execute(id, j)
	}
}

func (c *Crawler) execute(id int, j job) (res Result) {
	start := time.Now()
	c.setActive(c.active.Add(1))

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("fetch panicked: %v\nStack trace:\n%s", r, debug.Stack())
		}
		res.URL = j.url
		res.WorkerID = id
		res.Duration = time.Since(start)
		c.setActive(c.active.Add(-1))
		c.record(res)
	}()

	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	status, n, err := c.fetch(ctx, j.url)
	return Result{Status: status, Bytes: n, Err: err}
}

func (c *Crawler) fetch(ctx context.Context, rawURL string) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, err
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if l := c.hostLimiter(req.URL.Host); l != nil {
		if err := l.Wait(ctx); err != nil {
			return 0, 0, err
		}
	}

	resp, err := c.config.Client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return resp.StatusCode, n, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, n, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.StatusCode, n, nil
}

func (c *Crawler) hostLimiter(host string) *rate.Limiter {
	if c.config.PerHostRPS <= 0 {
		return nil
	}

	c.hostMu.Lock()
	defer c.hostMu.Unlock()
	l, ok := c.hosts[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.config.PerHostRPS), c.config.PerHostBurst)
		c.hosts[host] = l
	}
	return l
}

func (c *Crawler) record(res Result) {
	c.completed.Add(1)
	c.bytes.Add(res.Bytes)

	outcome := "ok"
	switch {
	case res.Err != nil && res.Status >= http.StatusBadRequest:
		outcome = "http_error"
	case res.Err != nil:
		outcome = "error"
	}
	if res.Err != nil {
		c.failed.Add(1)
		c.logger.Warn("fetch failed", "url", res.URL, "status", res.Status, "error", res.Err)
	} else {
		c.logger.Debug("fetched", "url", res.URL, "status", res.Status, "bytes", res.Bytes, "duration", res.Duration)
	}

	if c.metrics != nil {
		c.metrics.CrawlFetches.WithLabelValues(c.config.Name, outcome).Inc()
		c.metrics.CrawlFetchDuration.WithLabelValues(c.config.Name).Observe(res.Duration.Seconds())
		c.metrics.CrawlQueued.WithLabelValues(c.config.Name).Set(float64(len(c.queue)))
	}
}

func (c *Crawler) setActive(n int64) {
	if c.metrics != nil {
		c.metrics.CrawlActiveWorkers.WithLabelValues(c.config.Name).Set(float64(n))
	}
}

// Run feeds urls to the crawler, shuts it down and calls fn for every result
// in completion order. Feeding stops at the first Submit error, which Run
// returns after the already queued fetches have finished.
func (c *Crawler) Run(ctx context.Context, urls []string, fn func(Result)) error {
	errc := make(chan error, 1)
	go func() {
		defer c.Shutdown()
		for _, u := range urls {
			if err := c.Submit(ctx, u); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	for res := range c.Results() {
		if fn != nil {
			fn(res)
		}
	}
	return <-errc
}
