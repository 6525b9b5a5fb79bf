package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/config"
	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/metrics"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed notice.md
var defaultNotice string

//go:embed login_help.md
var loginHelp string

type App struct {
	cfg         config.Config
	store       *credstore.Store
	revocations *auth.Revocations
	pages       map[string]*template.Template
	notice      string
	now         func() time.Time
}

type ViewData struct {
	Authed    bool
	Username  string
	Name      string
	Email     string
	Admin     bool
	HideNav   bool
	Flash     string
	FlashKind string // ok|err|""

	// login
	Status   string
	HelpHTML template.HTML

	// which flows the authenticator offers
	CanRegister       bool
	CanForgotPassword bool
	CanForgotUsername bool
	CanChangePassword bool
	CanUpdateDetails  bool
	RegMode           string

	// register / recovery forms
	ManualRegister    bool
	FormUsername      string
	FormName          string
	FormEmail         string
	TempPassword      string
	RecoveredUsername string
	RecoveredEmail    string

	// dashboard
	NoticeHTML template.HTML
	ExpiresAt  time.Time

	// admin
	Users            []UserRow
	TotalUsers       int
	CookieName       string
	CookieExpiryDays int
	MinExpiryDays    int
	MaxExpiryDays    int
}

// UserRow is one line of the admin overview. It never carries a hash.
type UserRow struct {
	Username string
	Name     string
	Email    string
	Status   string
}

func newApp(cfg config.Config, store *credstore.Store) (*App, error) {
	base := template.New("layout.html").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Local().Format("2006-01-02 15:04")
		},
	})

	pages := map[string]*template.Template{}
	for _, page := range []string{"login", "register", "forgot_password", "forgot_username", "dashboard", "profile", "admin"} {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		// Each page file defines the same block names (title/content).
		if _, err := t.ParseFS(templatesFS, "templates/layout.html", "templates/"+page+".html"); err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", page, err)
		}
		pages[page] = t
	}

	notice := defaultNotice
	if cfg.NoticeFile != "" {
		b, err := os.ReadFile(cfg.NoticeFile)
		if err != nil {
			return nil, fmt.Errorf("reading notice file: %w", err)
		}
		notice = string(b)
	}

	return &App{
		cfg:         cfg,
		store:       store,
		revocations: auth.NewRevocations(),
		pages:       pages,
		notice:      notice,
		now:         time.Now,
	}, nil
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/api/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withSession)

		r.Get("/login", a.handleLoginPage)
		r.Post("/login", a.handleLogin)
		r.Post("/logout", a.requireAuth(a.handleLogout))
		r.Get("/register", a.handleRegisterPage)
		r.Post("/register", a.handleRegister)
		r.Get("/forgot-password", a.handleForgotPasswordPage)
		r.Post("/forgot-password", a.handleForgotPassword)
		r.Get("/forgot-username", a.handleForgotUsernamePage)
		r.Post("/forgot-username", a.handleForgotUsername)

		r.Get("/", a.requireAuth(a.handleDashboard))
		r.Get("/profile", a.requireAuth(a.handleProfile))
		r.Post("/profile/password", a.requireAuth(a.handleProfilePassword))
		r.Post("/profile/details", a.requireAuth(a.handleProfileDetails))
		r.Get("/profile/export", a.requireAuth(a.handleProfileExport))
		r.Post("/profile/delete", a.requireAuth(a.handleProfileDelete))

		r.Get("/admin", a.requireAdmin(a.handleAdmin))
		r.Get("/admin/users.csv", a.requireAdmin(a.handleAdminUsersCSV))
		r.Post("/admin/cookie", a.requireAdmin(a.handleAdminCookie))
	})

	return r
}

// authenticator loads the store fresh and builds the authenticator over it.
func (a *App) authenticator() (*auth.Local, *credstore.ConfigStore, error) {
	cs, err := a.store.Load()
	if err != nil {
		return nil, nil, err
	}
	return a.authenticatorFor(cs), cs, nil
}

func (a *App) authenticatorFor(cs *credstore.ConfigStore) *auth.Local {
	opts := append(a.cfg.AuthOptions(), auth.WithRevocations(a.revocations), auth.WithClock(a.now))
	return auth.FromStore(cs, opts...)
}

func (a *App) issueCookie(w http.ResponseWriter, name, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.cfg.SecureCookie,
		Expires:  expires,
		MaxAge:   int(expires.Sub(a.now()).Seconds()),
	})
}

func (a *App) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.cfg.SecureCookie,
		MaxAge:   -1,
	})
}
