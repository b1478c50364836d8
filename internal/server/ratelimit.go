package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/lexrag/internal/logging"
)

// Each query costs a generation call, so the default per-client budget is low.
const (
	defaultRateLimit = 2
	defaultRateBurst = 5

	bucketIdleTTL    = 5 * time.Minute
	bucketSweepEvery = time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// queryLimiter is a per-client token bucket in front of POST /query.
type queryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    rate.Limit
	burst    int
	onReject func()
}

// newQueryLimiter starts the idle-bucket sweeper and returns the limiter with
// a stop function. onReject, when non-nil, is called once per refused request.
func newQueryLimiter(rps float64, burst int, onReject func()) (*queryLimiter, func()) {
	q := &queryLimiter{
		buckets:  make(map[string]*bucket),
		limit:    rate.Limit(rps),
		burst:    burst,
		onReject: onReject,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(bucketSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-t.C:
				q.sweep(now)
			}
		}
	}()
	return q, func() { close(done) }
}

// admit takes one token for client. When none is available it reports how
// long until one would be.
func (q *queryLimiter) admit(client string, now time.Time) (bool, time.Duration) {
	q.mu.Lock()
	b, ok := q.buckets[client]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(q.limit, q.burst)}
		q.buckets[client] = b
	}
	b.lastSeen = now
	q.mu.Unlock()

	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return false, wait
}

// sweep drops buckets not used since bucketIdleTTL before now.
func (q *queryLimiter) sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for client, b := range q.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(q.buckets, client)
		}
	}
}

func (q *queryLimiter) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buckets)
}

// middleware answers 429 with Retry-After and a rate_limited error body once
// a client's bucket is empty.
func (q *queryLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		ok, wait := q.admit(client, time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		if q.onReject != nil {
			q.onReject()
		}
		logging.FromContext(r.Context()).Warn("query rate limited",
			slog.String("ip", client),
			slog.Duration("retry_after", wait),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeError(w, http.StatusTooManyRequests, kindRateLimited, "too many queries; retry later")
	})
}

// retryAfterSeconds rounds wait up to whole seconds, at least 1.
func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientIP is the RemoteAddr host. X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
