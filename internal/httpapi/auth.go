package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/models"
)

type identityKey struct{}

// bearerToken pulls the credential from the Authorization header or, for
// WebSocket clients that cannot set headers, the token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}

func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		id, err := s.Verifier.Verify(token)
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Authentication required"})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(role models.Role, next http.HandlerFunc) http.Handler {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r.Context()).Role != role {
			s.writeJSON(w, http.StatusForbidden, errorResponse{Message: "Insufficient permissions"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}
