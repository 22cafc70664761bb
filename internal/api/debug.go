package api

import (
	"net/http"
	"time"

	"taxifleet/internal/buildinfo"
)

// DebugJSON reports build info and which optional backends are configured.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	sources := make([]string, 0, len(s.Sources))
	for name := range s.Sources {
		sources = append(sources, name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               s.Cfg.Port,
			"authMode":           s.Cfg.Auth.Mode,
			"region":             s.Cfg.Region,
			"rateRps":            s.Cfg.RateRPS,
			"rateBurst":          s.Cfg.RateBurst,
			"webhookMaxAttempts": s.Cfg.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     s.Cfg.DatabaseURL != "",
			"hasRedisUrl":        s.Cfg.RedisURL != "",
			"sources":            sources,
			"optimizer":          s.Cfg.Optimizer,
		},
	})
}
