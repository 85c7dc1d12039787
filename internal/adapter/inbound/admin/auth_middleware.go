package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// isLocalhost checks if the request originates from a loopback address.
// It parses the host portion from r.RemoteAddr and checks for 127.0.0.1,
// ::1, or localhost. X-Forwarded-For is intentionally NOT trusted for
// security (an attacker could spoof it).
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port (unlikely with net/http, but be safe).
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// adminAuthMiddleware enforces access to the admin surface: localhost
// requests bypass auth entirely, everything else must present the
// configured X-API-Key. A configured key of the form "sha256:<hex>" (the
// output of the hash-key command) is matched against the SHA-256 of the
// supplied key; any other configured value is matched literally.
func (h *Handler) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next.ServeHTTP(w, r)
			return
		}
		if h.APIKey == "" {
			writeJSONError(w, http.StatusForbidden, "admin API requires localhost access or AGENTGATE_ADMIN_API_KEY")
			return
		}
		supplied := r.Header.Get("X-API-Key")
		candidate := supplied
		if strings.HasPrefix(h.APIKey, "sha256:") {
			sum := sha256.Sum256([]byte(supplied))
			candidate = "sha256:" + hex.EncodeToString(sum[:])
		}
		if supplied == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(h.APIKey)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing X-API-Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
