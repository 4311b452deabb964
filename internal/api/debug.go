package api

import (
	"net/http"
	"time"

	"fleetroute/internal/buildinfo"
)

// DebugJSON reports the build and the non-secret parts of the running configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.withAdmin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"addr":                s.cfg.Addr,
			"authMode":            s.cfg.AuthMode,
			"workers":             s.cfg.Workers,
			"defaultTimeLimit":    s.cfg.DefaultTimeLimit.String(),
			"maxTimeLimit":        s.cfg.MaxTimeLimit.String(),
			"solveRps":            s.cfg.SolveRPS,
			"solveBurst":          s.cfg.SolveBurst,
			"callbackMaxAttempts": s.cfg.CallbackMaxAttempts,
			"hasDatabaseUrl":      s.cfg.DatabaseURL != "",
			"hasRedisUrl":         s.cfg.RedisURL != "",
		},
	})
}
