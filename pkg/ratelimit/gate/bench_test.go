package gate

import (
	"context"
	"testing"
)

func mustNew(b *testing.B, cfg Config) *Gate {
	b.Helper()
	g, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	return g
}

func BenchmarkAdmitUnlimited(b *testing.B) {
	g := mustNew(b, DefaultConfig())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Admit(ctx)
	}
}

func BenchmarkAdmitBothBuckets(b *testing.B) {
	g := mustNew(b, Config{
		IOPSEnabled:  true,
		IOPSCapacity: 1e12,
		IOPSLimit:    1e12,
		BPSEnabled:   true,
		BPSCapacity:  1e18,
		BPSLimit:     1e18,
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = g.Admit(ctx)
	}
}

func BenchmarkRecordResponse(b *testing.B) {
	g := mustNew(b, DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.RecordResponse(int64(4096 + i%1024))
	}
}

func BenchmarkAdmitParallel(b *testing.B) {
	g := mustNew(b, Config{IOPSEnabled: true, IOPSCapacity: 1e12, IOPSLimit: 1e12})
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = g.Admit(ctx)
		}
	})
}
