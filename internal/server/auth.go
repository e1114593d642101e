package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ingestKey returns the agent secret from X-Ingest-Key or a bearer token.
func ingestKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Ingest-Key")); key != "" {
		return key
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			key = bearerToken(r)
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
