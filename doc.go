/*
Package crawlqos throttles outbound HTTP fetches by request rate and by
bandwidth.

Rate Limiting (pkg/ratelimit):
  - bucket: Token bucket with lazy refill
  - estimator: Moving average of response sizes
  - gate: Dual-bucket admission for each request
  - distributed: Shared bucket in Redis for multi-process crawls

HTTP (pkg/transport):
  - Transport: http.RoundTripper that admits each request and records the
    size of each response body

Settings (pkg/config):
  - YAML settings with humanized byte sizes

Example usage:

	import (
		"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
		"github.com/vnykmshr/crawlqos/pkg/transport"
	)

	g, _ := gate.New(gate.Config{
		IOPSEnabled: true, IOPSCapacity: 5, IOPSLimit: 2, // 2 requests/sec, burst 5
		BPSEnabled: true, BPSCapacity: 4 << 20, BPSLimit: 1 << 20, // 1 MiB/s, burst 4 MiB
	})
	client := transport.NewClient(g, nil)
	resp, err := client.Get("https://example.com/")

The qosfetch command in cmd/qosfetch wraps all of this in a small crawler.
*/
package crawlqos
