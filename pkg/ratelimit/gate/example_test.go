package gate_test

import (
	"context"
	"fmt"

	"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
)

func ExampleGate_Admit() {
	g, err := gate.New(gate.Config{
		Name:            "example",
		BPSEnabled:      true,
		BPSCapacity:     4096,
		BPSLimit:        1024,
		InitialEstimate: 1024,
		SmoothingFactor: 0.5,
	})
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := g.Admit(ctx); err != nil {
			panic(err)
		}
		g.RecordResponse(2048)
	}

	stats := g.Stats()
	fmt.Println("admitted:", stats.Admitted)
	fmt.Println("reserved bytes:", stats.BytesReserved)
	fmt.Println("next estimate:", g.Estimate())
	// Output:
	// admitted: 2
	// reserved bytes: 2560
	// next estimate: 1792
}

func ExampleGate_RecordResponse() {
	g, err := gate.New(gate.Config{
		SmallResponseSize: 512,
		InitialEstimate:   1000,
		SmoothingFactor:   1,
	})
	if err != nil {
		panic(err)
	}

	g.RecordResponse(100) // too small to count
	fmt.Println(g.Estimate())
	g.RecordResponse(4000)
	fmt.Println(g.Estimate())
	// Output:
	// 1000
	// 4000
}
