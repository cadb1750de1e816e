/*
Package gate throttles outbound requests against two token buckets at once.

A Gate holds an optional request-rate bucket (iops, one token per request)
and an optional bandwidth bucket (bps, one token per byte). Since the size of
a response is unknown until it arrives, each admission reserves the current
estimate from an estimator.Estimator, and every completed response is fed
back with RecordResponse so the estimate tracks what the remote actually
serves.

Basic usage:

	g, err := gate.New(gate.Config{
		IOPSEnabled:  true,
		IOPSCapacity: 10,
		IOPSLimit:    5,
		BPSEnabled:   true,
		BPSCapacity:  8 << 20,
		BPSLimit:     2 << 20,
	})
	if err != nil {
		return err
	}

	if err := g.Admit(ctx); err != nil {
		return err // ctx done, or a request that can never fit
	}
	resp, err := client.Do(req)
	// ... read the body ...
	g.RecordResponse(bytesRead)

Admission order between concurrent callers is not guaranteed. An estimate
grown past the bps capacity by large responses reserves a full bucket and is
counted in Stats.Capped. A fixed cost that exceeds its bucket's capacity
fails immediately with an error matching errors.ErrCapacityExceeded.

Buckets can be swapped for shared ones through Config.IOPSBucket and
Config.BPSBucket, for example a distributed.Bucket backed by Redis.
*/
package gate
