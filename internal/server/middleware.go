package server

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// cors mirrors the permissive policy the service has always shipped with;
// the API carries no cookies or browser credentials.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// floodGuard is a per-instance token bucket in front of everything,
// including reads. It protects this process from request floods; the shared
// sliding-window limiter inside the coordinator enforces the actual quota.
func (s *Server) floodGuard(next http.Handler) http.Handler {
	if s.opts.BurstRPS <= 0 {
		return next
	}
	limiter := rate.NewLimiter(rate.Limit(s.opts.BurstRPS), s.opts.Burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// auth guards mutating endpoints with the X-API-Key header. An empty
// configured key leaves the API open for local development.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" && r.Header.Get("X-API-Key") != s.opts.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

// clientIP is the identity the per-client window keys on. Trusts the first
// X-Forwarded-For hop when present; deployments sit behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
