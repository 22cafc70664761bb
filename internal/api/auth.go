// Package api implements the HTTP surface of the fleet optimizer service.
package api

import (
	"net/http"
	"strings"

	"taxifleet/internal/auth"
)

// getPrincipal resolves the caller from the bearer token. In dev mode a
// request without a token may name its role in X-Role and defaults to admin.
// Anything unverifiable is a viewer.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr
		}
		return auth.Principal{Role: auth.RoleViewer}
	}
	if s.Auth == nil || s.Auth.Mode == "dev" {
		role := strings.ToLower(r.Header.Get("X-Role"))
		if role == "" {
			role = auth.RoleAdmin
		}
		return auth.Principal{Subject: "dev", Role: role}
	}
	return auth.Principal{Role: auth.RoleViewer}
}

// requireWrite writes a 403 and returns false unless the caller may mutate.
func (s *Server) requireWrite(w http.ResponseWriter, r *http.Request) bool {
	if p := s.getPrincipal(r); !p.CanWrite() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin or analyst required", r.URL.Path)
		return false
	}
	return true
}
