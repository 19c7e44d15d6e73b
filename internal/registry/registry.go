// Package registry implements the per-IP token bucket rate limiter and
// violation-driven ban tracker (component B).
package registry

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sentryproxy/internal/clock"
)

// Decision is the outcome of a Check call.
type Decision int

const (
	Admitted Decision = iota
	RateLimited
	Banned
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case RateLimited:
		return "rate_limited"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

const shardCount = 256

type entry struct {
	tokens      float64
	lastRefill  time.Time
	violations  int
	bannedUntil time.Time // zero value means "not banned"
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Config holds the tunables of the registry. ViolationThreshold and
// BanDuration are fixed by spec and not part of this struct.
type Config struct {
	RequestsPerMinute float64
	Burst             float64
	MaxEntries        int // 0 means unbounded
}

// Registry is the sharded, concurrency-safe per-IP rate limiter and ban
// tracker. Concurrent requests from different IPs never contend; requests
// from the same IP serialize on that IP's shard section.
type Registry struct {
	shards [shardCount]*shard
	clock  clock.Clock
	cfg    Config
	sweep  singleflight.Group
}

// New constructs a Registry. clk is injected so tests can drive time
// deterministically; production callers pass clock.Real().
func New(cfg Config, clk clock.Clock) *Registry {
	r := &Registry{clock: clk, cfg: cfg}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return r
}

// shardFor hashes ip with FNV-32, the same hash zalando-skipper's
// consistent-hash load balancer uses to turn a client's remote host into a
// bucket index, generalized here to pick a shard instead of an endpoint.
func (r *Registry) shardFor(ip string) *shard {
	h := fnv.New32()
	_, _ = h.Write([]byte(ip))
	return r.shards[h.Sum32()%shardCount]
}

// Check runs the single per-IP critical section described in spec.md
// §4.B: ban check, lazy ban expiry, time-proportional refill, then either
// admission (token consumed) or a violation (counted toward a ban).
func (r *Registry) Check(ip string) Decision {
	sh := r.shardFor(ip)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.clock.Now()
	e, ok := sh.entries[ip]
	if !ok {
		e = &entry{tokens: r.cfg.Burst, lastRefill: now}
		sh.entries[ip] = e
	}

	if !e.bannedUntil.IsZero() {
		if now.Before(e.bannedUntil) {
			return Banned
		}
		e.bannedUntil = time.Time{}
	}

	elapsed := now.Sub(e.lastRefill).Seconds()
	if elapsed > 0 {
		e.tokens += elapsed * r.cfg.RequestsPerMinute / 60
		if e.tokens > r.cfg.Burst {
			e.tokens = r.cfg.Burst
		}
		e.lastRefill = now
	}

	if e.tokens >= 1 {
		e.tokens--
		return Admitted
	}

	e.violations++
	if e.violations >= ViolationThreshold {
		e.bannedUntil = now.Add(BanDuration)
		e.violations = 0
	}
	return RateLimited
}

// Fixed per spec.md §3.
const (
	ViolationThreshold = 3
	BanDuration        = time.Hour
)

// Len reports the total number of tracked IPs across all shards. Exposed
// for tests and for the admin metrics endpoint.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Sweep reaps entries whose bucket has been full for longer than one
// refill window and which carry no active ban, per spec.md §3/§9. The
// reap pass visits at most maxVisitPerShard entries per shard so a single
// tick cannot stall on a hot shard; the over-cap eviction that follows
// (evictOverCap) scans every entry of a shard that is over its cap, with
// no visit limit. Concurrent callers collapse into a single in-flight
// sweep via singleflight.
func (r *Registry) Sweep(maxVisitPerShard int) {
	r.sweep.Do("sweep", func() (interface{}, error) {
		r.sweepOnce(maxVisitPerShard)
		return nil, nil
	})
}

func (r *Registry) sweepOnce(maxVisitPerShard int) {
	now := r.clock.Now()
	refillWindow := time.Duration(0)
	if r.cfg.RequestsPerMinute > 0 {
		refillWindow = time.Duration(60/r.cfg.RequestsPerMinute*r.cfg.Burst) * time.Second
	}

	for _, sh := range r.shards {
		sh.mu.Lock()
		visited := 0
		for ip, e := range sh.entries {
			if visited >= maxVisitPerShard {
				break
			}
			visited++
			if !e.bannedUntil.IsZero() {
				if now.Before(e.bannedUntil) {
					continue // never evict an actively banned entry
				}
				e.bannedUntil = time.Time{} // ban expired; lazy reap
			}
			// The stored token count is only refreshed by Check, so work out
			// when the bucket became full from the refill rate.
			fullSince := e.lastRefill
			if missing := r.cfg.Burst - e.tokens; missing > 0 {
				if r.cfg.RequestsPerMinute <= 0 {
					continue
				}
				fullSince = fullSince.Add(time.Duration(missing * 60 / r.cfg.RequestsPerMinute * float64(time.Second)))
			}
			if now.Sub(fullSince) > refillWindow {
				delete(sh.entries, ip)
			}
		}
		r.evictOverCap(sh)
		sh.mu.Unlock()
	}
}

// evictOverCap enforces Config.MaxEntries with LRU-on-last_refill
// eviction, never touching an entry with an active ban. Caller holds
// sh.mu.
func (r *Registry) evictOverCap(sh *shard) {
	if r.cfg.MaxEntries <= 0 || len(sh.entries) <= r.cfg.MaxEntries/shardCount+1 {
		return
	}
	perShardCap := r.cfg.MaxEntries/shardCount + 1
	for len(sh.entries) > perShardCap {
		var oldestIP string
		var oldest time.Time
		found := false
		for ip, e := range sh.entries {
			if !e.bannedUntil.IsZero() {
				continue
			}
			if !found || e.lastRefill.Before(oldest) {
				oldestIP, oldest, found = ip, e.lastRefill, true
			}
		}
		if !found {
			return // everything left is banned; nothing evictable
		}
		delete(sh.entries, oldestIP)
	}
}

// StartSweeper launches a background goroutine that calls Sweep on a
// fixed tick until stop is closed.
func (r *Registry) StartSweeper(interval time.Duration, maxVisitPerShard int, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Sweep(maxVisitPerShard)
			}
		}
	}()
}
