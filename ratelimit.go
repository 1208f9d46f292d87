//////////////////////////////////////////////////////////////////////////
// RDAP Registry Server
//////////////////////////////////////////////////////////////////////////

package main

//////////////////////////////////////////////////////////////////////////

import (
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

//////////////////////////////////////////////////////////////////////////
// per-client rate limiter
//
// fixed window counting per client identity, sharded to keep lock
// contention away from concurrent request handlers

const rateLimitShards = 32

type rateBucket struct {
	count       int
	windowStart time.Time
}

type rateShard struct {
	sync.Mutex
	buckets map[string]*rateBucket
}

type RateLimiter struct {
	limit  int
	window time.Duration
	shards [rateLimitShards]*rateShard

	// injectable clock for tests
	now func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {

	limiter := &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for ix := range limiter.shards {
		limiter.shards[ix] = &rateShard{
			buckets: make(map[string]*rateBucket),
		}
	}

	return limiter
}

func (rl *RateLimiter) shard(client string) *rateShard {
	h := fnv.New32a()
	h.Write([]byte(client))
	return rl.shards[h.Sum32()%rateLimitShards]
}

//////////////////////////////////////////////////////////////////////////
// the limit check
//
// called once per request before any backend work; on denial the
// second return holds the Retry-After value

func (rl *RateLimiter) Check(client string) (bool, time.Duration) {

	// a non-positive limit disables limiting
	if rl == nil || rl.limit <= 0 {
		return true, 0
	}

	now := rl.now()
	shard := rl.shard(client)

	shard.Lock()
	defer shard.Unlock()

	bucket := shard.buckets[client]
	if bucket == nil {
		bucket = &rateBucket{windowStart: now}
		shard.buckets[client] = bucket
	}

	// roll the window over when it has elapsed
	if now.Sub(bucket.windowStart) >= rl.window {
		bucket.count = 0
		bucket.windowStart = now
	}

	bucket.count++
	if bucket.count <= rl.limit {
		return true, 0
	}

	// denied; tell the client when the window rolls over
	remaining := rl.window - now.Sub(bucket.windowStart)
	if remaining < time.Second {
		remaining = time.Second
	}

	return false, remaining
}

//////////////////////////////////////////////////////////////////////////
// bucket expiry
//
// drop buckets that have been idle for a full window so the map does
// not grow without bound

func (rl *RateLimiter) prune() {

	if rl == nil {
		return
	}

	now := rl.now()
	removed := 0

	for _, shard := range rl.shards {
		shard.Lock()
		for client, bucket := range shard.buckets {
			if now.Sub(bucket.windowStart) >= 2*rl.window {
				delete(shard.buckets, client)
				removed++
			}
		}
		shard.Unlock()
	}

	if removed > 0 {
		log.WithFields(log.Fields{
			"buckets": removed,
		}).Debug("Pruned idle rate limit buckets")
	}
}

// called from main to start periodic pruning
func (rl *RateLimiter) StartPruning(interval time.Duration) {

	if rl == nil || rl.limit <= 0 {
		return
	}

	go func() {
		for range time.Tick(interval) {
			rl.prune()
		}
	}()
}

//////////////////////////////////////////////////////////////////////////
// end of code
