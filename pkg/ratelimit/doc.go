/*
Package ratelimit groups the throttling primitives used to pace outbound
fetches.

  - bucket: lazily refilled token bucket with a non-blocking Consume and a
    Delay hint
  - estimator: exponential moving average of response sizes
  - gate: admission gate combining a request-rate bucket, a bandwidth
    bucket and the estimator
  - distributed: Redis-backed token bucket shared across processes

A typical setup charges one token per request and the estimated response
size in bytes per request:

	g, err := gate.New(gate.Config{
		IOPSEnabled:  true,
		IOPSCapacity: 10,
		IOPSLimit:    5,
		BPSEnabled:   true,
		BPSCapacity:  8 << 20,
		BPSLimit:     2 << 20,
	})

	if err := g.Admit(ctx); err != nil {
		return err
	}
	// fetch ...
	g.RecordResponse(size)

Buckets never block. The gate does the waiting, sleeping for the bucket's
delay hint and retrying, and honors context cancellation while it waits.
*/
package ratelimit
