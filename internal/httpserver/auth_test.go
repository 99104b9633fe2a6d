package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	qUserByEmail = `SELECT id, email, name, password_hash, created_at FROM users WHERE email=?`
	qUserByID    = `SELECT id, email, name, password_hash, created_at FROM users WHERE id=?`
)

func newAuthServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := newTestServer(&stubProvider{}, func(d *Deps) { d.DB = db })
	return s, mock
}

func post(s *Server, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func userRows(id, email, hash string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "created_at"}).
		AddRow(id, email, "Ada", hash, "2024-06-01T10:00:00Z")
}

func TestSignupAndMe(t *testing.T) {
	s, mock := newAuthServer(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE email=?`)).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id, email, name, password_hash, created_at) VALUES (?,?,?,?,?)`)).
		WithArgs(sqlmock.AnyArg(), "ada@example.com", "Ada", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rr := post(s, "/auth/signup", `{"email":"  Ada@Example.com ","password":"correct horse","name":"Ada"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "ada@example.com", created["email"])
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	tok := cookieNamed(rr, "poco_token")
	require.NotNil(t, tok)
	assert.True(t, tok.HttpOnly)

	mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs(id).
		WillReturnRows(userRows(id, "ada@example.com", "x"))
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(tok)
	me := httptest.NewRecorder()
	s.Router().ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.JSONEq(t, `{"id":"`+id+`","email":"ada@example.com","name":"Ada"}`, me.Body.String())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupValidation(t *testing.T) {
	s, mock := newAuthServer(t)

	rr := post(s, "/auth/signup", `{"email":"nope","password":"correct horse"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_email", errorCode(t, rr))

	rr = post(s, "/auth/signup", `{"email":"a@b.co","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_password", errorCode(t, rr))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE email=?`)).
		WithArgs("a@b.co").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	rr = post(s, "/auth/signup", `{"email":"a@b.co","password":"long enough"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "email_taken", errorCode(t, rr))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupRaceOnUniqueEmail(t *testing.T) {
	s, mock := newAuthServer(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE email=?`)).
		WithArgs("a@b.co").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	rr := post(s, "/auth/signup", `{"email":"a@b.co","password":"long enough"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "email_taken", errorCode(t, rr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignupLookupError(t *testing.T) {
	s, mock := newAuthServer(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE email=?`)).
		WithArgs("a@b.co").
		WillReturnError(errors.New("database is locked"))

	rr := post(s, "/auth/signup", `{"email":"a@b.co","password":"long enough"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "signup_failed", errorCode(t, rr))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSignInClaimsGuestUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	u := &fakeUsage{}
	s := newTestServer(&stubProvider{}, func(d *Deps) {
		d.DB = db
		d.Usage = u
	})
	guest := &http.Cookie{Name: anonCookieName, Value: "anon-guest"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE email=?`)).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	rr := post(s, "/auth/signup", `{"email":"ada@example.com","password":"correct horse"}`, guest)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WithArgs("ada@example.com").
		WillReturnRows(userRows("u1", "ada@example.com", string(hash)))
	require.Equal(t, http.StatusOK, post(s, "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`, guest).Code)

	// no guest cookie, nothing to claim
	mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WithArgs("ada@example.com").
		WillReturnRows(userRows("u1", "ada@example.com", string(hash)))
	require.Equal(t, http.StatusOK, post(s, "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`).Code)

	assert.Equal(t, [][2]string{{"anon-guest", created["id"].(string)}, {"anon-guest", "u1"}}, u.claims)
	require.NoError(t, mock.ExpectationsWereMet())
}

// authed sends an authenticated request for user u1.
func authed(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	tok, _, err := s.signJWT("u1", "ada@example.com")
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestUpdateProfile(t *testing.T) {
	s, mock := newAuthServer(t)
	mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs("u1").
		WillReturnRows(userRows("u1", "ada@example.com", "x"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET name=? WHERE id=?`)).
		WithArgs("Countess", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := authed(t, s, http.MethodPatch, "/auth/me", `{"name":"  Countess "}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"id":"u1","email":"ada@example.com","name":"Countess"}`, rr.Body.String())

	mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs("u1").
		WillReturnRows(userRows("u1", "ada@example.com", "x"))
	rr = authed(t, s, http.MethodPatch, "/auth/me", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPatch, "/auth/me", bytes.NewBufferString(`{"name":"x"}`))
	anon := httptest.NewRecorder()
	s.Router().ServeHTTP(anon, req)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePassword(t *testing.T) {
	s, mock := newAuthServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	expectUser := func() {
		mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs("u1").
			WillReturnRows(userRows("u1", "ada@example.com", string(hash)))
	}

	expectUser()
	expectUser()
	rr := authed(t, s, http.MethodPost, "/auth/password", `{"currentPassword":"wrong","newPassword":"battery staple"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rr))

	expectUser()
	expectUser()
	rr = authed(t, s, http.MethodPost, "/auth/password", `{"currentPassword":"correct horse","newPassword":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_password", errorCode(t, rr))

	expectUser()
	expectUser()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET password_hash=? WHERE id=?`)).
		WithArgs(sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rr = authed(t, s, http.MethodPost, "/auth/password", `{"currentPassword":"correct horse","newPassword":"battery staple"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin(t *testing.T) {
	s, mock := newAuthServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WithArgs("ada@example.com").
		WillReturnRows(userRows("u1", "ada@example.com", string(hash)))
	rr := post(s, "/auth/login", `{"email":"ada@example.com","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, cookieNamed(rr, "poco_token"))

	mock.ExpectQuery(regexp.QuoteMeta(qUserByEmail)).WithArgs("ada@example.com").
		WillReturnRows(userRows("u1", "ada@example.com", string(hash)))
	rr = post(s, "/auth/login", `{"email":"ada@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rr))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogoutClearsCookie(t *testing.T) {
	s := newTestServer(&stubProvider{}, nil)
	rr := post(s, "/auth/logout", "")
	require.Equal(t, http.StatusOK, rr.Code)
	c := cookieNamed(rr, "poco_token")
	require.NotNil(t, c)
	assert.Equal(t, -1, c.MaxAge)
}

func TestMeRequiresToken(t *testing.T) {
	s, _ := newAuthServer(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rr))
}

func TestSignedInUserOwnsSessions(t *testing.T) {
	s, mock := newAuthServer(t)
	tok, _, err := s.signJWT("u1", "ada@example.com")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(qUserByID)).WithArgs("u1").
		WillReturnRows(userRows("u1", "ada@example.com", "x"))
	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Nil(t, cookieNamed(rr, anonCookieName))

	id := view(t, rr).ID
	sess, err := s.sessions.Get(req.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.Owner)
	require.NoError(t, mock.ExpectationsWereMet())
}
