// internal/httpserver/auth.go
//
// Account endpoints and identity middleware.
// Responsibilities:
//   - POST /auth/signup, /auth/login, /auth/logout.
//   - GET/PATCH /auth/me and POST /auth/password (gated).
//   - Email/password users in SQLite with bcrypt hashes.
//   - HS256 JWT in an HttpOnly cookie or Authorization: Bearer header.
//   - Anonymous id cookie so guests own their sessions and usage. Signing up
//     or logging in moves the guest's metered usage onto the account.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	errEmailTaken   = errors.New("email taken")
	errInvalidEmail = errors.New("invalid email")
	errPasswordLen  = errors.New("password must be 8-100 chars")
)

// Request payloads for signup/login.
type signupReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type profileReq struct {
	Name *string `json:"name"`
}
type passwordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// authUser is placed into request context by auth middleware.
type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ctxUserKey is the context key type for storing authUser.
type ctxUserKey struct{}

func currentUser(r *http.Request) *authUser {
	u, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	return u
}

// mountAuthRoutes registers /auth/*.
func (s *Server) mountAuthRoutes() {
	s.r.Post("/auth/signup", s.handleSignup)
	s.r.Post("/auth/login", s.handleLogin)
	s.r.Post("/auth/logout", s.handleLogout)
	s.r.Group(func(r chi.Router) {
		r.Use(s.requireAuth())
		r.Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, currentUser(r))
		})
		r.Patch("/auth/me", s.handleUpdateProfile)
		r.Post("/auth/password", s.handleChangePassword)
	})
}

// handleSignup creates a new user, signs a JWT and sets the auth cookie.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "accounts_disabled")
		return
	}
	var body signupReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	u, err := s.createUser(r.Context(), body.Email, body.Name, body.Password)
	switch {
	case errors.Is(err, errEmailTaken):
		writeError(w, http.StatusConflict, "email_taken")
		return
	case errors.Is(err, errInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid_email")
		return
	case errors.Is(err, errPasswordLen):
		writeError(w, http.StatusBadRequest, "invalid_password")
		return
	case err != nil:
		log.Error().Err(err).Msg("create user")
		writeError(w, http.StatusInternalServerError, "signup_failed")
		return
	}
	if !s.issueToken(w, u) {
		return
	}
	s.claimAnonUsage(r, u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": u.ID, "email": u.Email, "name": u.Name, "createdAt": u.CreatedAt})
}

// handleLogin authenticates a user and sets the auth cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "accounts_disabled")
		return
	}
	var body loginReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	u, err := s.findUserByEmail(r.Context(), normalizeEmail(body.Email))
	if err != nil || !checkPassword(u.PasswordHash, body.Password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if !s.issueToken(w, u) {
		return
	}
	s.claimAnonUsage(r, u.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": u.ID, "email": u.Email, "name": u.Name})
}

// handleUpdateProfile changes the display name.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body profileReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	name := strings.TrimSpace(*body.Name)
	if len(name) > maxNameLen {
		writeError(w, http.StatusBadRequest, "invalid_name")
		return
	}
	me := currentUser(r)
	if _, err := s.db.ExecContext(r.Context(), `UPDATE users SET name=? WHERE id=?`, name, me.ID); err != nil {
		log.Error().Err(err).Str("user", me.ID).Msg("update profile")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}
	writeJSON(w, http.StatusOK, authUser{ID: me.ID, Email: me.Email, Name: name})
}

// handleChangePassword replaces the password after checking the current one.
// The auth cookie stays valid.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body passwordReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	me := currentUser(r)
	u, err := s.findUserByID(r.Context(), me.ID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	if !checkPassword(u.PasswordHash, body.CurrentPassword) {
		writeError(w, http.StatusForbidden, "invalid_credentials")
		return
	}
	if err := validatePassword(body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_password")
		return
	}
	h, err := bcrypt.GenerateFromPassword([]byte(body.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}
	if _, err := s.db.ExecContext(r.Context(), `UPDATE users SET password_hash=? WHERE id=?`, string(h), me.ID); err != nil {
		log.Error().Err(err).Str("user", me.ID).Msg("change password")
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}
	log.Info().Str("user", me.ID).Msg("password changed")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// claimAnonUsage moves usage metered to the caller's guest id onto userID.
// Failures are logged; the sign-in still succeeds.
func (s *Server) claimAnonUsage(r *http.Request, userID string) {
	if s.usage == nil {
		return
	}
	c, err := r.Cookie(anonCookieName)
	if err != nil || c.Value == "" {
		return
	}
	if err := s.usage.Claim(r.Context(), c.Value, userID); err != nil {
		log.Warn().Err(err).Str("anon", c.Value).Str("user", userID).Msg("claim anon usage")
	}
}

// handleLogout clears the auth cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) issueToken(w http.ResponseWriter, u *userRow) bool {
	tok, exp, err := s.signJWT(u.ID, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign_failed")
		return false
	}
	s.setAuthCookie(w, tok, exp)
	return true
}

// --------------------------- auth middleware --------------------------------

// withOptionalAuth decorates requests with user context if a valid JWT is present.
// It never 401s.
func (s *Server) withOptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := s.userFromToken(r); u != nil {
				r = r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, u))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth enforces a valid JWT for a user that still exists.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerOrCookie(r, s.cfg.CookieName) == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			u := s.userFromToken(r)
			if u == nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserKey{}, u)))
		})
	}
}

func (s *Server) userFromToken(r *http.Request) *authUser {
	tok := bearerOrCookie(r, s.cfg.CookieName)
	if tok == "" || s.db == nil {
		return nil
	}
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !t.Valid {
		return nil
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return nil
	}
	u, err := s.findUserByID(r.Context(), id)
	if err != nil {
		return nil
	}
	return &authUser{ID: u.ID, Email: u.Email, Name: u.Name}
}

const anonCookieName = "poco_anon"

// ensureAnonID returns an existing anon cookie or sets a new one.
func (s *Server) ensureAnonID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := "anon-" + uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: s.sameSite(),
		Expires:  time.Now().Add(180 * 24 * time.Hour),
	})
	return id
}

// owner is the signed-in user's id, or the anonymous id for guests.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) string {
	if me := currentUser(r); me != nil {
		return me.ID
	}
	return s.ensureAnonID(w, r)
}

// ------------------------ users ---------------------------------------------

// userRow matches the users table shape.
type userRow struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// createUser validates input, hashes the password and inserts a new user.
func (s *Server) createUser(ctx context.Context, email, name, pw string) (*userRow, error) {
	email = normalizeEmail(email)
	if err := validateSignup(email, pw); err != nil {
		return nil, err
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email=?`, email).Scan(&exists)
	switch {
	case err == nil:
		return nil, errEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	u := &userRow{ID: uuid.NewString(), Email: email, Name: strings.TrimSpace(name), PasswordHash: string(h), CreatedAt: mustParse(now)}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, now); err != nil {
		// A concurrent signup for the same email loses on the unique index.
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, errEmailTaken
		}
		return nil, err
	}
	return u, nil
}

func (s *Server) findUserByEmail(ctx context.Context, email string) (*userRow, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE email=?`, email))
}

func (s *Server) findUserByID(ctx context.Context, id string) (*userRow, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE id=?`, id))
}

func scanUser(row *sql.Row) (*userRow, error) {
	var u userRow
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = mustParse(created)
	return &u, nil
}

// mustParse parses RFC3339 timestamps; on error returns zero time.
func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func validateSignup(email, pw string) error {
	at := strings.IndexByte(email, '@')
	if at < 1 || at == len(email)-1 || len(email) > 254 || strings.ContainsAny(email, " \t") {
		return errInvalidEmail
	}
	return validatePassword(pw)
}

func validatePassword(pw string) error {
	if len(pw) < 8 || len(pw) > 100 {
		return errPasswordLen
	}
	return nil
}

const maxNameLen = 100

// ------------------------------ JWT & cookies ------------------------------

// signJWT creates an HS256 JWT with id/email, expiring after JWTExpiresDays.
func (s *Server) signJWT(id, email string) (string, time.Time, error) {
	days := s.cfg.JWTExpiresDays
	if days <= 0 {
		days = 14
	}
	exp := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    id,
		"email": email,
		"exp":   exp.Unix(),
		"iat":   time.Now().Unix(),
	})
	ss, err := t.SignedString([]byte(s.cfg.JWTSecret))
	return ss, exp, err
}

func (s *Server) sameSite() http.SameSite {
	if s.cfg.Production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (s *Server) setAuthCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: s.sameSite(),
		Expires:  exp,
	})
}

func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Production,
		SameSite: s.sameSite(),
		MaxAge:   -1,
	})
}

// bearerOrCookie extracts a bearer token from the Authorization header or the auth cookie.
func bearerOrCookie(r *http.Request, cookieName string) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
