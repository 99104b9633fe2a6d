package httpserver

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/poco/internal/usage"
)

// handleUsage returns the caller's monthly request count, limit and last 7 days.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage_disabled")
		return
	}
	owner := s.owner(w, r)
	sum, err := usage.Summarize(r.Context(), s.usage, owner, s.now(), s.cfg.UsageMonthlyLimit)
	if err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("usage summary")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
