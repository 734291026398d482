package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-client limiter table before it is reset
const maxLimiters = 10000

// RateLimit configures per-client request limiting
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Middleware applies per-client rate limiting and IP access control
type Middleware struct {
	rateLimit  *RateLimit
	allowed    []string
	trustProxy bool

	rateLimiters map[string]*rate.Limiter
	mu           sync.Mutex
	logger       zerolog.Logger
}

// Config holds middleware settings. A nil RateLimit disables limiting; an
// empty AllowedIPs list admits every client.
type Config struct {
	RateLimit  *RateLimit
	AllowedIPs []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP
	TrustProxy bool
}

// New creates a middleware handler
func New(cfg Config) *Middleware {
	return &Middleware{
		rateLimit:    cfg.RateLimit,
		allowed:      cfg.AllowedIPs,
		trustProxy:   cfg.TrustProxy,
		rateLimiters: make(map[string]*rate.Limiter),
		logger:       log.WithComponent("middleware"),
	}
}

// Wrap guards h with access control and rate limiting
func (m *Middleware) Wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := m.ClientIP(r)

		if !m.CheckAccessControl(clientIP) {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		if !m.CheckRateLimit(clientIP) {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		h(w, r)
	}
}

// CheckRateLimit reports whether clientIP may make another request
func (m *Middleware) CheckRateLimit(clientIP string) bool {
	if m.rateLimit == nil {
		return true
	}

	m.mu.Lock()
	limiter, exists := m.rateLimiters[clientIP]
	if !exists {
		if len(m.rateLimiters) >= maxLimiters {
			m.logger.Info().Int("count", len(m.rateLimiters)).Msg("Clearing rate limiters")
			m.rateLimiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rate.Limit(m.rateLimit.RequestsPerSecond), m.rateLimit.Burst)
		m.rateLimiters[clientIP] = limiter
	}
	m.mu.Unlock()

	if !limiter.Allow() {
		m.logger.Warn().Str("client", clientIP).Msg("Rate limit exceeded")
		return false
	}
	return true
}

// CheckAccessControl reports whether clientIP matches the allow list
func (m *Middleware) CheckAccessControl(clientIP string) bool {
	if len(m.allowed) == 0 {
		return true
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		m.logger.Warn().Str("client", clientIP).Msg("Invalid client IP")
		return false
	}

	for _, cidr := range m.allowed {
		if matchCIDR(ip, cidr) {
			return true
		}
	}
	m.logger.Warn().Str("client", clientIP).Msg("Access denied (not in allow list)")
	return false
}

// StartCleanupJob resets the limiter table every interval until stop closes
func (m *Middleware) StartCleanupJob(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.mu.Lock()
				m.rateLimiters = make(map[string]*rate.Limiter)
				m.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// ClientIP extracts the client address, honouring proxy headers only when
// configured to
func (m *Middleware) ClientIP(r *http.Request) string {
	if m.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// matchCIDR checks if ip matches a CIDR range or a single address
func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		parsed := net.ParseIP(cidr)
		return parsed != nil && ip.Equal(parsed)
	}

	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
