package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tomzdev/spotify-migration-tool/token/jwt"
	"golang.org/x/crypto/bcrypt"
)

const headerAdminKey = "X-Admin-Key"

// RequireAdmin gates operator routes. A caller proves itself with either the admin key
// (checked against ADMIN_KEY_HASH) or an HS256 bearer token signed with ADMIN_JWT_SECRET
// whose role claim is admin.
func (s *Server) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyHash := s.config.GetAdminKeyHash()
		if keyHash == "" && s.admins == nil {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin access is disabled"})
			return
		}

		if key := r.Header.Get(headerAdminKey); key != "" && keyHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
				s.logger.Warn().Str("client", clientKey(r)).Msg("admin key rejected")
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid admin key"})
				return
			}
			next(w, r)
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" || s.admins == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "admin credentials required"})
			return
		}
		claims, err := s.admins.Verify(raw)
		if errors.Is(err, jwt.ErrNotAdmin) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin role required"})
			return
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("client", clientKey(r)).Msg("admin token rejected")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid admin token"})
			return
		}
		s.logger.Debug().Str("operator", claims.Subject).Str("path", r.URL.Path).Msg("admin request")
		next(w, r)
	}
}
