package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/logger"
	"github.com/hnrobert/securedash/internal/metrics"
)

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// humanError maps store and authenticator errors to flash text.
func humanError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, credstore.ErrWrite):
		return "Could not save changes. Nothing was changed, please try again."
	case errors.Is(err, credstore.ErrConfigNotFound):
		return "Configuration file not found. Please ask your administrator to create it."
	case errors.Is(err, credstore.ErrConfigParse):
		return "Configuration file could not be read. Please contact your administrator."
	default:
		return auth.HumanAuthError(err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case auth.IsUnsupported(err):
		return metrics.OutcomeUnsupported
	case errors.Is(err, credstore.ErrWrite), errors.Is(err, credstore.ErrConfigNotFound), errors.Is(err, credstore.ErrConfigParse):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeFailed
	}
}

// update is credstore.Store.Update with the save counted and logged.
func (a *App) update(fn func(cs *credstore.ConfigStore) error) error {
	err := a.store.Update(fn)
	if err == nil || errors.Is(err, credstore.ErrWrite) {
		metrics.StoreWrite(err)
	}
	if errors.Is(err, credstore.ErrWrite) {
		logger.Error("Saving %s failed: %v", a.store.Path(), err)
	}
	return err
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r).Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := a.loginData(r, sessionFrom(r))
	if r.URL.Query().Get("ok") == "logout" {
		data.Flash = "You have been logged out."
		data.FlashKind = "ok"
	}
	a.renderPage(w, "login", data)
}

func (a *App) loginData(r *http.Request, sess *auth.Session) *ViewData {
	data := a.baseData(r)
	data.HideNav = true
	data.Status = sess.Status.String()
	data.HelpHTML = RenderMarkdown(loginHelp)
	if au, _, err := a.authenticator(); err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
	} else {
		setCapabilities(data, au)
	}
	return data
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if sess.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	_ = r.ParseForm()
	username := strings.TrimSpace(r.Form.Get("username"))
	password := r.Form.Get("password")
	if username == "" || password == "" {
		data := a.loginData(r, sess)
		data.Flash = "Username and password are required."
		data.FlashKind = "err"
		data.FormUsername = username
		a.renderPage(w, "login", data)
		return
	}

	au, _, err := a.authenticator()
	if err != nil {
		data := a.loginData(r, sess)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		a.renderPage(w, "login", data)
		return
	}
	_ = sess.Submit(username)
	res, err := au.Login(username, password)
	metrics.AuthEvent(string(auth.OpLogin), outcome(err))
	if err != nil {
		_ = sess.Fail()
		logger.Info("Failed login attempt for user %s from %s", username, remoteIP(r))
		data := a.loginData(r, sess)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		data.FormUsername = username
		a.renderPage(w, "login", data)
		return
	}
	_ = sess.Succeed(res)
	logger.Info("User %s logged in from %s", res.Username, remoteIP(r))
	a.issueCookie(w, au.CookieName(), res.Token, res.ExpiresAt)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	cookieName := ""
	if au, _, err := a.authenticator(); err == nil {
		cookieName = au.CookieName()
		err := au.Logout(readToken(r, cookieName))
		metrics.AuthEvent(string(auth.OpLogout), outcome(err))
		if err != nil && !auth.IsUnsupported(err) {
			logger.Warn("Revoking session of %s failed: %v", sess.Username, err)
		}
	}
	logger.Info("User %s logged out from %s", sess.Username, remoteIP(r))
	_ = sess.Logout()
	if cookieName != "" {
		a.clearCookie(w, cookieName)
	}
	http.Redirect(w, r, "/login?ok=logout", http.StatusSeeOther)
}

func (a *App) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r).Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	a.renderPage(w, "register", a.registerData(r))
}

func (a *App) registerData(r *http.Request) *ViewData {
	data := a.baseData(r)
	data.HideNav = true
	au, _, err := a.authenticator()
	if err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
		return data
	}
	setCapabilities(data, au)
	data.ManualRegister = !au.Supports(auth.OpRegister)
	if a.cfg.RegistrationMode == auth.RegistrationClosed {
		data.Flash = auth.HumanAuthError(auth.ErrRegistrationClosed)
		data.FlashKind = "err"
	}
	return data
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if sessionFrom(r).Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	_ = r.ParseForm()
	req := auth.RegisterRequest{
		Username:        r.Form.Get("username"),
		Name:            r.Form.Get("name"),
		Email:           r.Form.Get("email"),
		Password:        r.Form.Get("password"),
		PasswordConfirm: r.Form.Get("password2"),
	}

	au, _, err := a.authenticator()
	var username string
	if err == nil {
		if au.Supports(auth.OpRegister) {
			var res auth.RegisterResult
			res, err = au.Register(req)
			if err == nil {
				username = res.Username
				err = a.update(res.Apply)
			}
			metrics.AuthEvent(string(auth.OpRegister), outcome(err))
		} else {
			username, err = a.registerManually(req)
		}
	}
	if err != nil {
		logger.Info("Registration of %s from %s rejected: %v", strings.TrimSpace(req.Username), remoteIP(r), err)
		data := a.registerData(r)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		data.FormUsername = req.Username
		data.FormName = req.Name
		data.FormEmail = req.Email
		a.renderPage(w, "register", data)
		return
	}

	logger.Info("User %s registered from %s", username, remoteIP(r))
	data := a.loginData(r, sessionFrom(r))
	data.Flash = fmt.Sprintf("Registration successful. You can now log in as %s.", username)
	data.FlashKind = "ok"
	data.FormUsername = username
	a.renderPage(w, "login", data)
}

// registerManually adds an account directly to the store when the
// authenticator does not offer registration. It applies the same
// validation and registration mode.
func (a *App) registerManually(req auth.RegisterRequest) (string, error) {
	if a.cfg.RegistrationMode == auth.RegistrationClosed {
		return "", auth.ErrRegistrationClosed
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := auth.ValidateForm(req); err != nil {
		return "", err
	}
	hash, err := a.cfg.Hasher().Hash(req.Password)
	if err != nil {
		return "", err
	}
	err = a.update(func(cs *credstore.ConfigStore) error {
		if _, exists := cs.Account(req.Username); exists {
			return auth.ErrUsernameTaken
		}
		if _, taken := cs.UsernameByEmail(req.Email); taken {
			return auth.ErrEmailTaken
		}
		if a.cfg.RegistrationMode == auth.RegistrationPreAuthorized && !cs.RemovePreAuthorized(req.Email) {
			return auth.ErrNotPreAuthorized
		}
		credstore.UpsertAccount(cs, req.Username, credstore.Account{Name: req.Name, Email: req.Email, PasswordHash: hash})
		return nil
	})
	if err != nil {
		return "", err
	}
	return req.Username, nil
}

func (a *App) handleForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "forgot_password", a.recoveryData(r))
}

func (a *App) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	username := strings.TrimSpace(r.Form.Get("username"))
	data := a.recoveryData(r)

	au, _, err := a.authenticator()
	var res auth.ForgotPasswordResult
	if err == nil {
		res, err = au.ForgotPassword(username)
		if err == nil {
			err = a.update(res.Apply)
		}
		metrics.AuthEvent(string(auth.OpForgotPassword), outcome(err))
	}
	if err != nil {
		logger.Info("Password reset for %s from %s failed: %v", username, remoteIP(r), err)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		data.FormUsername = username
		a.renderPage(w, "forgot_password", data)
		return
	}

	logger.Info("Password of user %s reset from %s", res.Username, remoteIP(r))
	data.Flash = "Password reset successful. Change this password after logging in!"
	data.FlashKind = "ok"
	data.RecoveredUsername = res.Username
	data.RecoveredEmail = res.Email
	data.TempPassword = res.NewPassword
	a.renderPage(w, "forgot_password", data)
}

func (a *App) handleForgotUsernamePage(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "forgot_username", a.recoveryData(r))
}

func (a *App) handleForgotUsername(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	email := strings.TrimSpace(r.Form.Get("email"))
	data := a.recoveryData(r)

	au, _, err := a.authenticator()
	var res auth.ForgotUsernameResult
	if err == nil {
		res, err = au.ForgotUsername(email)
		metrics.AuthEvent(string(auth.OpForgotUsername), outcome(err))
	}
	if err != nil {
		logger.Info("Username recovery for %s from %s failed: %v", email, remoteIP(r), err)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		data.FormEmail = email
		a.renderPage(w, "forgot_username", data)
		return
	}

	logger.Info("Username of %s recovered from %s", res.Email, remoteIP(r))
	data.Flash = "Username recovery successful."
	data.FlashKind = "ok"
	data.RecoveredUsername = res.Username
	data.RecoveredEmail = res.Email
	a.renderPage(w, "forgot_username", data)
}

func (a *App) recoveryData(r *http.Request) *ViewData {
	data := a.baseData(r)
	data.HideNav = !data.Authed
	if au, _, err := a.authenticator(); err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
	} else {
		setCapabilities(data, au)
	}
	return data
}

func setCapabilities(data *ViewData, au auth.Authenticator) {
	data.CanRegister = au.Supports(auth.OpRegister)
	data.CanForgotPassword = au.Supports(auth.OpForgotPassword)
	data.CanForgotUsername = au.Supports(auth.OpForgotUsername)
	data.CanChangePassword = au.Supports(auth.OpChangePassword)
	data.CanUpdateDetails = au.Supports(auth.OpUpdateDetails)
}

func (a *App) baseData(r *http.Request) *ViewData {
	sess := sessionFrom(r)
	data := &ViewData{
		Authed:    sess.Authenticated(),
		Username:  sess.Username,
		Name:      sess.Name,
		Email:     sess.Email,
		Admin:     a.isAdmin(r),
		RegMode:   string(a.cfg.RegistrationMode),
		Status:    sess.Status.String(),
		ExpiresAt: sess.ExpiresAt,
	}
	if msg, ok := okMessages[r.URL.Query().Get("ok")]; ok {
		data.Flash = msg
		data.FlashKind = "ok"
	}
	if r.URL.Query().Get("err") == "1" {
		data.Flash = "Request failed."
		data.FlashKind = "err"
	}
	return data
}

var okMessages = map[string]string{
	"1":        "Saved.",
	"password": "Password changed successfully.",
	"details":  "Profile updated successfully.",
	"cookie":   "Cookie settings updated.",
}

func (a *App) renderPage(w http.ResponseWriter, page string, data *ViewData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	t := a.pages[page]
	if t == nil {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	if err := t.ExecuteTemplate(w, "layout", data); err != nil {
		logger.Error("renderPage template execution failed for %s: %v", page, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
