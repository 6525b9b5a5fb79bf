package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/config"
	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/logger"
)

const testCookie = "securedash_auth_cookie"

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func seedStore(t *testing.T) *credstore.Store {
	t.Helper()
	h := auth.NewBcryptHasher(bcrypt.MinCost)
	hash := func(pw string) string {
		s, err := h.Hash(pw)
		require.NoError(t, err)
		return s
	}
	store := credstore.NewStore(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, store.Save(&credstore.ConfigStore{
		Credentials: credstore.Credentials{Usernames: map[string]credstore.Account{
			"admin":  {Name: "Administrator", Email: "admin@example.com", PasswordHash: hash("admin123")},
			"jsmith": {Name: "John Smith", Email: "john.smith@example.com", PasswordHash: hash("password456")},
		}},
		Cookie:        credstore.CookiePolicy{Name: testCookie, Key: "server-test-key", ExpiryDays: 30},
		PreAuthorized: []string{"mary.jones@example.com"},
	}))
	return store
}

func newTestHandler(t *testing.T, environ map[string]string) (http.Handler, *credstore.Store) {
	t.Helper()
	store := seedStore(t)
	vars := map[string]string{
		"SECUREDASH_CONFIG":      store.Path(),
		"SECUREDASH_BCRYPT_COST": "4",
	}
	for k, v := range environ {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	srv, err := New(cfg, store)
	require.NoError(t, err)
	return srv.Handler(), store
}

func do(h http.Handler, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	return nil
}

func login(t *testing.T, h http.Handler, username, password string) *http.Cookie {
	t.Helper()
	rec := do(h, http.MethodPost, "/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c, "no session cookie issued")
	return c
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(h, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	do(h, http.MethodGet, "/login", nil)
	rec := do(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "securedash_http_requests_total")
}

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	for _, path := range []string{"/", "/profile", "/admin", "/profile/export"} {
		rec := do(h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}
}

func TestLogin_FailThenRetry(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/login", url.Values{"username": {"jsmith"}, "password": {"nope"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication failed.")
	assert.Contains(t, rec.Body.String(), "Username or password is incorrect.")
	assert.Nil(t, sessionCookie(rec))

	c := login(t, h, "jsmith", "password456")
	assert.True(t, c.HttpOnly)

	rec = do(h, http.MethodGet, "/", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome, John Smith!")
	assert.Contains(t, rec.Body.String(), "About this dashboard")
	assert.NotContains(t, rec.Body.String(), `href="/admin"`)
}

func TestLogin_MixedCaseStoredUsername(t *testing.T) {
	h, store := newTestHandler(t, nil)
	require.NoError(t, store.Update(func(cs *credstore.ConfigStore) error {
		acct := cs.Credentials.Usernames["jsmith"]
		delete(cs.Credentials.Usernames, "jsmith")
		cs.Credentials.Usernames["JSmith"] = acct
		return nil
	}))

	c := login(t, h, "JSmith", "password456")
	rec := do(h, http.MethodGet, "/", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome, John Smith!")

	rec = do(h, http.MethodPost, "/profile/details", url.Values{"name": {"Johnny Smith"}, "email": {"john.smith@example.com"}}, c)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"JSmith", "admin"}, cs.Usernames())
	assert.Equal(t, "Johnny Smith", cs.Credentials.Usernames["JSmith"].Name)
}

func TestLogin_MissingFields(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(h, http.MethodPost, "/login", url.Values{"username": {"jsmith"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username and password are required.")
}

func TestLoginPage_RedirectsWhenAuthenticated(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")
	rec := do(h, http.MethodGet, "/login", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLogout_RevokesToken(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	rec := do(h, http.MethodPost, "/logout", nil, c)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?ok=logout", rec.Header().Get("Location"))
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	rec = do(h, http.MethodGet, "/", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestBearerToken(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+c.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func registration(username, email string) url.Values {
	return url.Values{
		"username":  {username},
		"name":      {"Mary Jones"},
		"email":     {email},
		"password":  {"securepass789"},
		"password2": {"securepass789"},
	}
}

func TestRegister_PreAuthorized(t *testing.T) {
	h, store := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/register", registration("mjones", "mary.jones@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Registration successful. You can now log in as mjones.")

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, cs.Credentials.Usernames, 3)
	assert.Empty(t, cs.PreAuthorized)
	assert.NotEqual(t, "securepass789", cs.Credentials.Usernames["mjones"].PasswordHash)

	login(t, h, "mjones", "securepass789")
}

func TestRegister_Rejected(t *testing.T) {
	h, store := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/register", registration("mjones", "someone@example.com"))
	assert.Contains(t, rec.Body.String(), "This email is not pre-authorized to register.")

	form := registration("mjones", "mary.jones@example.com")
	form.Set("password2", "different")
	rec = do(h, http.MethodPost, "/register", form)
	assert.Contains(t, rec.Body.String(), "Passwords do not match.")
	assert.Contains(t, rec.Body.String(), `value="mary.jones@example.com"`)

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, cs.Credentials.Usernames, 2)
}

func TestRegister_Closed(t *testing.T) {
	h, _ := newTestHandler(t, map[string]string{"SECUREDASH_REGISTRATION": "closed"})

	rec := do(h, http.MethodGet, "/register", nil)
	assert.Contains(t, rec.Body.String(), "Registration is disabled by the administrator.")
	assert.NotContains(t, rec.Body.String(), `action="/register"`)

	rec = do(h, http.MethodPost, "/register", registration("mjones", "mary.jones@example.com"))
	assert.Contains(t, rec.Body.String(), "Registration is disabled by the administrator.")
}

func TestRegister_ManualFallback(t *testing.T) {
	h, store := newTestHandler(t, map[string]string{
		"SECUREDASH_DISABLED_OPS": "register",
		"SECUREDASH_REGISTRATION": "open",
	})

	rec := do(h, http.MethodGet, "/register", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Self-service registration is not offered here.")

	rec = do(h, http.MethodPost, "/register", registration("mjones", "mary@example.com"))
	assert.Contains(t, rec.Body.String(), "Registration successful.")

	rec = do(h, http.MethodPost, "/register", registration("MJones", "other@example.com"))
	assert.Contains(t, rec.Body.String(), "That username is already taken.")

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, cs.Credentials.Usernames, 3)
	login(t, h, "mjones", "securepass789")
}

var tempPasswordRe = regexp.MustCompile(`<code id="temp-password">([^<]+)</code>`)

func TestForgotPassword(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/forgot-password", url.Values{"username": {"jsmith"}})
	require.Equal(t, http.StatusOK, rec.Code)
	m := tempPasswordRe.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Change this password after logging in!")

	rec = do(h, http.MethodPost, "/login", url.Values{"username": {"jsmith"}, "password": {"password456"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	login(t, h, "jsmith", m[1])

	rec = do(h, http.MethodPost, "/forgot-password", url.Values{"username": {"ghost"}})
	assert.Contains(t, rec.Body.String(), "Username not found.")
}

func TestForgotPassword_Unsupported(t *testing.T) {
	h, _ := newTestHandler(t, map[string]string{"SECUREDASH_DISABLED_OPS": "forgot_password"})

	rec := do(h, http.MethodGet, "/forgot-password", nil)
	assert.Contains(t, rec.Body.String(), "Password reset is not available.")

	rec = do(h, http.MethodPost, "/forgot-password", url.Values{"username": {"jsmith"}})
	assert.Contains(t, rec.Body.String(), "This feature is not available. Please contact your administrator.")

	login(t, h, "jsmith", "password456")
}

func TestForgotUsername(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := do(h, http.MethodPost, "/forgot-username", url.Values{"email": {"John.Smith@example.com"}})
	assert.Contains(t, rec.Body.String(), `<strong id="recovered-username">jsmith</strong>`)

	rec = do(h, http.MethodPost, "/forgot-username", url.Values{"email": {"nobody@example.com"}})
	assert.Contains(t, rec.Body.String(), "Email not found.")
}

func TestProfile_ChangePassword(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	rec := do(h, http.MethodPost, "/profile/password", url.Values{
		"current_password": {"password456"},
		"new_password":     {"newsecret1"},
		"new_password2":    {"newsecret2"},
	}, c)
	assert.Contains(t, rec.Body.String(), "Passwords do not match.")

	rec = do(h, http.MethodPost, "/profile/password", url.Values{
		"current_password": {"wrong"},
		"new_password":     {"newsecret1"},
		"new_password2":    {"newsecret1"},
	}, c)
	assert.Contains(t, rec.Body.String(), "Username or password is incorrect.")

	rec = do(h, http.MethodPost, "/profile/password", url.Values{
		"current_password": {"password456"},
		"new_password":     {"newsecret1"},
		"new_password2":    {"newsecret1"},
	}, c)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/profile?ok=password", rec.Header().Get("Location"))

	login(t, h, "jsmith", "newsecret1")
}

func TestProfile_UpdateDetails(t *testing.T) {
	h, store := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	rec := do(h, http.MethodPost, "/profile/details", url.Values{"name": {"John"}, "email": {"admin@example.com"}}, c)
	assert.Contains(t, rec.Body.String(), "That email is already registered.")

	rec = do(h, http.MethodPost, "/profile/details", url.Values{"name": {"Johnny Smith"}, "email": {"johnny@example.com"}}, c)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = do(h, http.MethodGet, "/", nil, c)
	assert.Contains(t, rec.Body.String(), "Welcome, Johnny Smith!")

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "johnny@example.com", cs.Credentials.Usernames["jsmith"].Email)
}

func TestProfile_Export(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	rec := do(h, http.MethodGet, "/profile/export", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "jsmith_profile.json")

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]string{"name": "John Smith", "username": "jsmith", "email": "john.smith@example.com"}, got)
}

func TestProfile_DeleteNeverDeletes(t *testing.T) {
	h, store := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	rec := do(h, http.MethodPost, "/profile/delete", url.Values{"confirm": {"yes"}}, c)
	assert.Contains(t, rec.Body.String(), "Please type DELETE to confirm.")

	rec = do(h, http.MethodPost, "/profile/delete", url.Values{"confirm": {"DELETE"}}, c)
	assert.Contains(t, rec.Body.String(), "nothing was deleted")

	cs, err := store.Load()
	require.NoError(t, err)
	_, ok := cs.Account("jsmith")
	assert.True(t, ok)
}

func TestAdmin_Forbidden(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "jsmith", "password456")

	for _, path := range []string{"/admin", "/admin/users.csv"} {
		rec := do(h, http.MethodGet, path, nil, c)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestAdmin_OverviewIsCachedAndHidesHashes(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "admin", "admin123")

	rec := do(h, http.MethodGet, "/admin", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<strong id="total-users">2</strong>`)
	assert.Contains(t, body, "john.smith@example.com")
	assert.NotContains(t, body, "$2a$")
	assert.Contains(t, body, testCookie)

	// A registration after the snapshot does not show up in the overview.
	do(h, http.MethodPost, "/register", registration("mjones", "mary.jones@example.com"))
	rec = do(h, http.MethodGet, "/admin", nil, c)
	assert.Contains(t, rec.Body.String(), `<strong id="total-users">2</strong>`)
}

func TestAdmin_UsersCSV(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	c := login(t, h, "admin", "admin123")

	rec := do(h, http.MethodGet, "/admin/users.csv", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Username", "Name", "Email", "Status"},
		{"admin", "Administrator", "admin@example.com", "Active"},
		{"jsmith", "John Smith", "john.smith@example.com", "Active"},
	}, records)
}

func TestAdmin_CookieExpiry(t *testing.T) {
	h, store := newTestHandler(t, nil)
	c := login(t, h, "admin", "admin123")

	rec := do(h, http.MethodPost, "/admin/cookie", url.Values{"expiry_days": {"400"}}, c)
	assert.Equal(t, "/admin?err=1", rec.Header().Get("Location"))

	rec = do(h, http.MethodPost, "/admin/cookie", url.Values{"expiry_days": {"7"}}, c)
	assert.Equal(t, "/admin?ok=cookie", rec.Header().Get("Location"))

	cs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cs.Cookie.ExpiryDays)
	assert.Len(t, cs.Credentials.Usernames, 2)

	next := login(t, h, "jsmith", "password456")
	assert.InDelta(t, 7*24*3600, next.MaxAge, 60)
}

func TestNew_FatalStoreErrors(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"SECUREDASH_BCRYPT_COST": "4"})
	require.NoError(t, err)

	missing := credstore.NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err = New(cfg, missing)
	assert.ErrorIs(t, err, credstore.ErrConfigNotFound)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credentials: [\n"), 0o600))
	_, err = New(cfg, credstore.NewStore(path))
	assert.ErrorIs(t, err, credstore.ErrConfigParse)
}

func newListenServer(t *testing.T) *Server {
	t.Helper()
	store := seedStore(t)
	cfg, err := config.LoadFrom(map[string]string{
		"SECUREDASH_CONFIG":      store.Path(),
		"SECUREDASH_BCRYPT_COST": "4",
		"SECUREDASH_LISTEN":      "127.0.0.1:0",
	})
	require.NoError(t, err)
	srv, err := New(cfg, store)
	require.NoError(t, err)
	return srv
}

func TestShutdown_BeforeListen(t *testing.T) {
	srv := newListenServer(t)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.ErrorIs(t, srv.ListenAndServe(), http.ErrServerClosed)
}

func TestShutdown_WhileServing(t *testing.T) {
	srv := newListenServer(t)

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}

func TestRenderMarkdown_Sanitizes(t *testing.T) {
	out := string(RenderMarkdown("# Hi\n\n<script>alert(1)</script>\n\n[x](javascript:alert(1))"))
	assert.Contains(t, out, "<h1>Hi</h1>")
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "javascript:")
}
