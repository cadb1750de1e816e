// Package distributed provides a token bucket shared across processes, using
// Redis as the coordination backend.
//
// Several crawler instances hitting the same site usually need one global
// budget rather than one per process. A Bucket keeps its token level and
// refill timestamp in Redis and updates both in a single Lua script, so
// concurrent Consume calls from any number of instances are atomic.
//
// # Quick Start
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	shared, err := distributed.NewBucket(distributed.Config{
//		Redis:           rdb,
//		Key:             "crawlqos:example.com:bps",
//		Name:            "bps",
//		Capacity:        8 << 20,
//		FillRate:        2 << 20,
//		FallbackToLocal: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer shared.Close()
//
//	g, err := gate.New(gate.Config{BPSBucket: shared})
//
// # Semantics
//
// The script follows the same rules as bucket.TokenBucket: refill happens
// lazily and only while the bucket is below capacity, the stored timestamp
// always advances to now, and a request is granted only if enough tokens
// are present. Delay is computed locally from the last token level returned
// by Redis, so it is a hint that the gate re-checks with Consume.
//
// # Fallback Strategy
//
// When a Redis call fails the Bucket logs the error and, with
// FallbackToLocal set, answers from an in-process bucket of the same
// capacity and rate until Redis responds again. Without fallback, Consume
// denies and Delay returns RetryBackoff, so callers poll instead of spinning.
//
// # Redis Keys
//
// For a key prefix "k" the bucket uses:
//
//	k:tokens       current token level
//	k:last_refill  refill timestamp in microseconds
//	k:stats        total/allowed/denied counters
//	k:instances    set of instance IDs that consumed recently
//
// All keys expire after KeyTTL of inactivity.
package distributed
