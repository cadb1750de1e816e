package benchmark

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/vnykmshr/crawlqos/internal/crawl"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/bucket"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
	"github.com/vnykmshr/crawlqos/pkg/transport"
)

func unlimitedGate(b *testing.B) *gate.Gate {
	b.Helper()
	g, err := gate.New(gate.Config{
		IOPSEnabled:  true,
		IOPSCapacity: 1e12,
		IOPSLimit:    1e12,
		BPSEnabled:   true,
		BPSCapacity:  1e18,
		BPSLimit:     1e18,
	})
	if err != nil {
		b.Fatal(err)
	}
	return g
}

// BenchmarkConsume compares the token bucket against x/time/rate on the
// uncontended fast path.
func BenchmarkConsume(b *testing.B) {
	b.Run("bucket", func(b *testing.B) {
		tb, err := bucket.New("bench", 1e12, 1e12)
		if err != nil {
			b.Fatal(err)
		}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = tb.Consume(1)
		}
	})

	b.Run("x/time/rate", func(b *testing.B) {
		l := rate.NewLimiter(rate.Limit(1e12), 1e9)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = l.Allow()
		}
	})
}

// BenchmarkAdmitContended measures Admit with many goroutines.
func BenchmarkAdmitContended(b *testing.B) {
	g := unlimitedGate(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = g.Admit(ctx)
		}
	})
}

// BenchmarkTransport measures the overhead of the throttled round trip
// against a local server for several body sizes.
func BenchmarkTransport(b *testing.B) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		_, _ = io.WriteString(w, strings.Repeat("b", n))
	}))
	defer srv.Close()

	for _, size := range []int{0, 1 << 10, 64 << 10} {
		b.Run(sizeLabel(size), func(b *testing.B) {
			client := transport.NewClient(unlimitedGate(b), nil)
			url := fmt.Sprintf("%s/?n=%d", srv.URL, size)

			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				resp, err := client.Get(url)
				if err != nil {
					b.Fatal(err)
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		})
	}
}

// BenchmarkCrawl measures end-to-end crawl throughput by worker count.
func BenchmarkCrawl(b *testing.B) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("c", 4096))
	}))
	defer srv.Close()

	for _, workers := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			c, err := crawl.New(crawl.Config{
				Client:  transport.NewClient(unlimitedGate(b), nil),
				Workers: workers,
			})
			if err != nil {
				b.Fatal(err)
			}

			urls := make([]string, b.N)
			for i := range urls {
				urls[i] = srv.URL
			}

			b.ResetTimer()
			if err := c.Run(context.Background(), urls, nil); err != nil {
				b.Fatal(err)
			}
		})
	}
}

func sizeLabel(n int) string {
	switch {
	case n >= 1<<10:
		return strconv.Itoa(n>>10) + "KiB"
	default:
		return strconv.Itoa(n) + "B"
	}
}
