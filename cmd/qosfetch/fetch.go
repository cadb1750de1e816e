package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/vnykmshr/crawlqos/internal/crawl"
	"github.com/vnykmshr/crawlqos/internal/logger"
	qcontext "github.com/vnykmshr/crawlqos/pkg/common/context"
	"github.com/vnykmshr/crawlqos/pkg/config"
	"github.com/vnykmshr/crawlqos/pkg/metrics"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/distributed"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
	"github.com/vnykmshr/crawlqos/pkg/transport"
)

type FetchCmd struct {
	URLs        []string `arg:"" optional:"" name:"url" help:"URLs to fetch"`
	Input       string   `short:"i" type:"existingfile" help:"File with one URL per line"`
	Concurrency int      `short:"n" help:"Override fetch.concurrency from the settings"`
	MetricsAddr string   `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9090"`
	Stats       string   `default:"@every 10s" help:"Cron spec for logging throttle stats; empty disables"`
	Progress    bool     `short:"p" help:"Show a progress bar on stderr"`
}

func (c *FetchCmd) Run(cli *CLI) error {
	ctx, cancel := qcontext.WithSignals(context.Background())
	defer cancel()

	log := logger.New(logger.WithDebug(cli.Debug), logger.WithName("qosfetch"))

	s, err := loadSettings(cli.Config)
	if err != nil {
		return err
	}
	if c.Concurrency > 0 {
		s.Fetch.Concurrency = c.Concurrency
	}

	urls, err := readURLs(c.URLs, c.Input)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no URLs given")
	}

	var m *metrics.Registry
	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewRegistry(reg)
		srv := serveMetrics(c.MetricsAddr, reg, log)
		defer func() { _ = srv.Close() }()
	}

	g, closeGate, err := buildGate(s, log, m)
	if err != nil {
		return err
	}
	defer closeGate()

	if c.Stats != "" {
		stop, err := scheduleStats(c.Stats, g, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	crawler, err := crawl.New(crawl.Config{
		Name:       s.Name,
		Client:     &http.Client{Transport: &transport.Transport{Gate: g, Logger: logger.Component(log, "transport")}},
		Workers:    s.Fetch.Concurrency,
		PerHostRPS: s.Fetch.PerHostRPS,
		Timeout:    s.Fetch.Timeout,
		UserAgent:  s.Fetch.UserAgent,
		Logger:     logger.Component(log, "crawl"),
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	var (
		progress *mpb.Progress
		bar      *mpb.Bar
	)
	if c.Progress {
		progress = mpb.New(mpb.WithOutput(os.Stderr), mpb.WithRefreshRate(150*time.Millisecond))
		bar = progress.AddBar(int64(len(urls)),
			mpb.PrependDecorators(
				decor.Name(s.Name, decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			),
		)
	}

	start := time.Now()
	runErr := crawler.Run(ctx, urls, func(r crawl.Result) {
		if bar != nil {
			bar.Increment()
		}
		if r.Err != nil {
			fmt.Printf("ERR  %-8s %s: %v\n", "-", r.URL, r.Err)
			return
		}
		fmt.Printf("%d  %-8s %s\n", r.Status, humanize.IBytes(uint64(r.Bytes)), r.URL)
	})
	if progress != nil {
		bar.Abort(false)
		progress.Wait()
	}

	cs, gs := crawler.Stats(), g.Stats()
	log.Info("done",
		"fetched", cs.Completed,
		"failed", cs.Failed,
		"bytes", humanize.IBytes(uint64(cs.Bytes)),
		"elapsed", time.Since(start).Round(time.Millisecond),
		"waited", gs.WaitTime.Round(time.Millisecond),
		"estimate", humanize.IBytes(uint64(gs.Estimate)),
	)
	if runErr != nil && !qcontext.IsCanceled(ctx) {
		return runErr
	}
	return nil
}

// buildGate creates the gate described by s, backed by Redis buckets when
// s.Redis is set. The returned func releases the Redis resources.
func buildGate(s *config.Settings, log *slog.Logger, m *metrics.Registry) (*gate.Gate, func(), error) {
	cfg := s.GateConfig()
	cfg.Logger = logger.Component(log, "gate")
	cfg.Metrics = m

	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if s.Redis != nil {
		rdb := redis.NewClient(&redis.Options{Addr: s.Redis.Addr, DB: s.Redis.DB})
		closers = append(closers, func() { _ = rdb.Close() })

		shared := func(suffix string, capacity, rate float64) (*distributed.Bucket, error) {
			dc := distributed.DefaultConfig()
			dc.Redis = rdb
			dc.Key = s.Redis.Key + ":" + suffix
			dc.Name = suffix
			dc.Capacity = capacity
			dc.FillRate = rate
			dc.FallbackToLocal = s.Redis.FallbackToLocal
			dc.Logger = logger.Component(log, "distributed")
			dc.Metrics = m
			b, err := distributed.NewBucket(dc)
			if err != nil {
				return nil, err
			}
			closers = append(closers, func() { _ = b.Close() })
			return b, nil
		}

		if s.IOPSEnabled {
			b, err := shared("iops", s.IOPSCapacity, s.IOPSLimit)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			cfg.IOPSBucket = b
		}
		if s.BPSEnabled {
			b, err := shared("bps", s.BPSCapacity.Float64(), s.BPSLimit.Float64())
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			cfg.BPSBucket = b
		}
		log.Info("using shared buckets", "addr", s.Redis.Addr, "key", s.Redis.Key)
	}

	g, err := gate.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return g, cleanup, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// scheduleStats logs gate counters on the given cron spec.
func scheduleStats(spec string, g *gate.Gate, log *slog.Logger) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		st := g.Stats()
		log.Info("throttle",
			"admitted", st.Admitted,
			"waits", st.Waits,
			"capped", st.Capped,
			"waited", st.WaitTime.Round(time.Millisecond),
			"reserved", humanize.IBytes(uint64(st.BytesReserved)),
			"estimate", humanize.IBytes(uint64(st.Estimate)),
		)
	}); err != nil {
		return nil, fmt.Errorf("invalid --stats spec %q: %w", spec, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// readURLs merges args with the non-empty, non-comment lines of path.
func readURLs(args []string, path string) ([]string, error) {
	urls := append([]string(nil), args...)
	if path == "" {
		return urls, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
