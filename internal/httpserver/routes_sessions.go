// internal/httpserver/routes_sessions.go
//
// HTTP routes for hatchery sessions, mounted under /sessions:
//   - POST   /sessions                         → create a session (intro stage)
//   - GET    /sessions/{id}                    → snapshot
//   - DELETE /sessions/{id}                    → discard
//   - POST   /sessions/{id}/start              → intro → genesis
//   - POST   /sessions/{id}/environment        → resolve weather from coordinates
//   - PUT    /sessions/{id}/debug              → toggle debug mode
//   - POST   /sessions/{id}/genesis            → analyze the base photo
//   - POST   /sessions/{id}/tasks/{taskID}/feed → verify a task photo
//   - POST   /sessions/{id}/hatch              → final stats + portrait
//   - POST   /sessions/{id}/reset              → back to the intro screen
//
// Every success responds with the session snapshot. A failed generation is
// not an HTTP error: the snapshot carries the rolled-back stage and feedback.
// Sessions belong to whoever created them (user id or anonymous id).

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/poco/internal/genesis"
	"github.com/robalobadob/poco/internal/store"
	"github.com/robalobadob/poco/internal/usage"
)

// mountSessions registers all /sessions routes.
func (s *Server) mountSessions(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/start", s.handleStart)
			r.Post("/environment", s.handleEnvironment)
			r.Put("/debug", s.handleDebug)
			r.Post("/reset", s.handleReset)

			// Generation endpoints are rate limited and metered.
			r.Group(func(r chi.Router) {
				r.Use(s.limit)
				r.Post("/genesis", s.handleGenesis)
				r.Post("/tasks/{taskID}/feed", s.handleFeed)
				r.Post("/hatch", s.handleHatch)
			})
		})
	})
}

type createSessionReq struct {
	Debug  bool   `json:"debug"`
	Locale string `json:"locale"`
}

// handleCreateSession starts a new play-through for the caller.
// Locale comes from the body, else from Accept-Language.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	locale := req.Locale
	var msgs genesis.Messages
	if s.catalog != nil {
		if locale == "" {
			locale = s.catalog.Negotiate(r.Header.Get("Accept-Language"))
		} else {
			locale = s.catalog.Negotiate(locale)
		}
		msgs = s.catalog.For(locale)
	}
	if locale == "" {
		locale = "en"
	}

	sess := genesis.New(s.provider, msgs, genesis.Options{
		Owner:  s.owner(w, r),
		Locale: locale,
		Debug:  req.Debug,
	})
	if err := s.sessions.Save(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("save session")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	log.Info().Str("session", sess.ID).Str("owner", sess.Owner).Str("locale", locale).Msg("session created")
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Delete(r.Context(), sess.ID); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("delete session")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.respond(w, sess, sess.Start())
}

type environmentReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// handleEnvironment looks up the weather for the device's coordinates. The
// lookup is best effort: on failure the session keeps the default environment.
func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req environmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "invalid_coordinates")
		return
	}
	lat, lon := *req.Latitude, *req.Longitude
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "invalid_coordinates")
		return
	}
	env := genesis.DefaultEnvironment()
	if s.weather != nil {
		var err error
		env, err = s.weather.Lookup(r.Context(), lat, lon)
		if err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("weather lookup, using defaults")
		}
	}
	sess.SetEnvironment(env)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

type debugReq struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req debugReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	sess.SetDebug(req.Enabled)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleGenesis(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok || !s.withinQuota(w, r, sess) {
		return
	}
	img, err := decodeImage(w, r)
	if err != nil {
		writeImageError(w, err)
		return
	}
	s.respond(w, sess, sess.SubmitGenesis(s.generationContext(r, sess), img))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok || !s.withinQuota(w, r, sess) {
		return
	}
	img, err := decodeImage(w, r)
	if err != nil {
		writeImageError(w, err)
		return
	}
	debug := r.URL.Query().Get("debug") == "1" || r.URL.Query().Get("debug") == "true"
	s.respond(w, sess, sess.SubmitFeed(s.generationContext(r, sess), chi.URLParam(r, "taskID"), img, debug))
}

func (s *Server) handleHatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok || !s.withinQuota(w, r, sess) {
		return
	}
	s.respond(w, sess, sess.Hatch(s.generationContext(r, sess)))
}

// ------------------------------- helpers -----------------------------------

// session loads {id} and checks the caller owns it. Someone else's session is
// reported as not found.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*genesis.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if !s.owns(r, sess) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	return sess, true
}

func (s *Server) owns(r *http.Request, sess *genesis.Session) bool {
	if me := currentUser(r); me != nil && me.ID == sess.Owner {
		return true
	}
	c, err := r.Cookie(anonCookieName)
	return err == nil && c.Value != "" && c.Value == sess.Owner
}

// generationContext bills provider calls to the session owner. The call is
// detached from the client connection so an in-flight generation always
// settles the session.
func (s *Server) generationContext(r *http.Request, sess *genesis.Session) context.Context {
	return usage.WithOwner(context.WithoutCancel(r.Context()), sess.Owner)
}

// callsPerAction is the most provider calls one generation action makes:
// analysis + silhouette, verification + silhouette, or stats + image.
const callsPerAction = 2

// withinQuota rejects the request with 429 unless the owner can afford a whole
// action under the monthly limit. Concurrent actions by one owner are not
// serialized, so the limit stays a soft cap. Usage store errors are logged and
// let the request through.
func (s *Server) withinQuota(w http.ResponseWriter, r *http.Request, sess *genesis.Session) bool {
	if s.usage == nil || s.cfg.UsageMonthlyLimit <= 0 {
		return true
	}
	ok, err := usage.Allows(r.Context(), s.usage, sess.Owner, s.now(), s.cfg.UsageMonthlyLimit, callsPerAction)
	if err != nil {
		log.Warn().Err(err).Str("owner", sess.Owner).Msg("usage check")
		return true
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "quota_exceeded")
		return false
	}
	return true
}

// respond maps a session action's error to a status and otherwise writes the snapshot.
func (s *Server) respond(w http.ResponseWriter, sess *genesis.Session, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sess.Snapshot())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, genesis.ErrInvalidStage):
		writeError(w, http.StatusConflict, "invalid_stage")
	case errors.Is(err, genesis.ErrTasksIncomplete):
		writeError(w, http.StatusConflict, "tasks_incomplete")
	case errors.Is(err, genesis.ErrTaskCompleted):
		writeError(w, http.StatusConflict, "task_completed")
	default:
		log.Error().Err(err).Str("session", sess.ID).Msg("session action")
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
