package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// writeJSON encodes a response body, trusting the payload to be encodable.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits the single-message error shape.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ipWindow counts requests in fixed minute and hour windows.
type ipWindow struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSeen    time.Time
}

// RateLimiter applies per-client fixed-window limits. Windows are coarse
// on purpose: this throttles abusive clients, it is not billing.
type RateLimiter struct {
	perMinute int
	perHour   int

	mu      sync.Mutex
	clients map[string]*ipWindow
}

// NewRateLimiter creates a limiter. Non-positive limits disable it.
func NewRateLimiter(perMinute, perHour int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		clients:   make(map[string]*ipWindow),
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.perMinute <= 0 && rl.perHour <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, allowed := rl.allow(clientIP(r), time.Now())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string, now time.Time) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	win, ok := rl.clients[ip]
	if !ok {
		win = &ipWindow{minuteStart: now, hourStart: now}
		rl.clients[ip] = win
		rl.evictStale(now)
	}
	win.lastSeen = now

	if now.Sub(win.minuteStart) >= time.Minute {
		win.minuteStart, win.minuteCount = now, 0
	}
	if now.Sub(win.hourStart) >= time.Hour {
		win.hourStart, win.hourCount = now, 0
	}

	if rl.perMinute > 0 && win.minuteCount >= rl.perMinute {
		return time.Minute - now.Sub(win.minuteStart), false
	}
	if rl.perHour > 0 && win.hourCount >= rl.perHour {
		return time.Hour - now.Sub(win.hourStart), false
	}

	win.minuteCount++
	win.hourCount++
	return 0, true
}

// evictStale drops clients idle past their hour window. Called under the
// lock, only on the new-client path, so steady traffic pays nothing.
func (rl *RateLimiter) evictStale(now time.Time) {
	for ip, win := range rl.clients {
		if now.Sub(win.lastSeen) > 2*time.Hour {
			delete(rl.clients, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware has already rewritten RemoteAddr when a
	// trusted proxy header was present.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// maxBodyBytes caps request bodies; strategy code is capped separately and
// everything else in a request is small.
const maxBodyBytes = 2 << 20

// BodyLimit rejects oversized request bodies with 413 before handlers read
// them.
func BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
