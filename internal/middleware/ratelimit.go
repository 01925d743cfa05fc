package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxClients caps the number of tracked client addresses. mcpgate
// serves one GUI on localhost; anything beyond a handful of addresses
// is misdirected traffic, so the cap is small and excess clients are
// rejected outright.
const maxClients = 256

// RateLimiter throttles requests per client address with a token
// bucket. The GUI occasionally bursts (opening a panel fires several
// fetches at once), so the burst size is separate from the sustained
// rate.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rps     float64
	burst   float64
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// second per client with the given burst headroom.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*bucket),
		rps:     rps,
		burst:   float64(burst),
	}
}

// Handler enforces the limit, answering 429 with a Retry-After hint
// when a client is over it.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, ok := rl.take(clientAddr(r), time.Now())

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take spends one token for addr, refilling by elapsed time first.
// Returns the remaining whole tokens, the seconds until the next token
// when denied, and whether the request may proceed.
func (rl *RateLimiter) take(addr string, now time.Time) (remaining int, retryAfter float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.clients[addr]
	if !exists {
		if len(rl.clients) >= maxClients {
			rl.prune(now)
			if len(rl.clients) >= maxClients {
				return 0, 1 / rl.rps, false
			}
		}
		b = &bucket{tokens: rl.burst, last: now}
		rl.clients[addr] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rps)
	b.last = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rps, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// prune drops buckets idle long enough to have refilled completely;
// forgetting them cannot grant a client anything a fresh bucket would
// not. Called under mu, only when the client map is at capacity, which
// keeps the limiter free of background goroutines.
func (rl *RateLimiter) prune(now time.Time) {
	idle := time.Duration(rl.burst/rl.rps*float64(time.Second)) + time.Second
	for addr, b := range rl.clients {
		if now.Sub(b.last) > idle {
			delete(rl.clients, addr)
		}
	}
}

// clientAddr keys buckets by the connection's remote host. Forwarding
// headers are ignored; they are trivially spoofed and nothing proxies
// a localhost daemon.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
