package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates basic metrics configuration.
func Example_basicUsage() {
	// Create a separate registry for this example
	promRegistry := prometheus.NewRegistry()
	registry := NewRegistry(promRegistry)

	registry.GateAdmissions.WithLabelValues("crawler").Add(8)
	registry.GateWaits.WithLabelValues("crawler", "bps").Add(2)

	fmt.Println("admitted:", testutil.ToFloat64(registry.GateAdmissions.WithLabelValues("crawler")))
	fmt.Println("waited on bps:", testutil.ToFloat64(registry.GateWaits.WithLabelValues("crawler", "bps")))

	// Output:
	// admitted: 8
	// waited on bps: 2
}
