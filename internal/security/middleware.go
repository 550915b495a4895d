package security

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/beacon-dash/beacon/internal/platform/httpx"
)

// BlockChecker reports whether a client address is blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

// ClientIP returns the request's client address without the port. It relies
// on chi's RealIP middleware having rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BlockMiddleware rejects requests from blacklisted addresses with 403. Lookup
// failures are logged and the request is let through.
func BlockMiddleware(checker BlockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			blocked, err := checker.IsBlocked(r.Context(), ip)
			if err != nil {
				logger.Warn("blacklist lookup failed", slog.String("ip", ip), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if blocked {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "address blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
