package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/logger"
	"github.com/hnrobert/securedash/internal/metrics"
)

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := a.baseData(r)
	data.NoticeHTML = RenderMarkdown(a.notice)
	a.renderPage(w, "dashboard", data)
}

func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, "profile", a.profileData(r))
}

func (a *App) profileData(r *http.Request) *ViewData {
	data := a.baseData(r)
	data.FormName = data.Name
	data.FormEmail = data.Email
	if au, _, err := a.authenticator(); err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
	} else {
		setCapabilities(data, au)
	}
	return data
}

func (a *App) profileError(w http.ResponseWriter, r *http.Request, err error) {
	data := a.profileData(r)
	data.Flash = humanError(err)
	data.FlashKind = "err"
	a.renderPage(w, "profile", data)
}

func (a *App) handleProfilePassword(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r).Username
	_ = r.ParseForm()
	req := auth.ChangePasswordRequest{
		CurrentPassword:    r.Form.Get("current_password"),
		NewPassword:        r.Form.Get("new_password"),
		NewPasswordConfirm: r.Form.Get("new_password2"),
	}

	au, _, err := a.authenticator()
	if err == nil {
		var upd auth.AccountUpdate
		upd, err = au.ChangePassword(user, req)
		if err == nil {
			err = a.update(upd.Apply)
		}
		metrics.AuthEvent(string(auth.OpChangePassword), outcome(err))
	}
	if err != nil {
		logger.Warn("Password change failed for %s from %s: %v", user, remoteIP(r), err)
		a.profileError(w, r, err)
		return
	}
	logger.Info("User %s changed password from %s", user, remoteIP(r))
	http.Redirect(w, r, "/profile?ok=password", http.StatusSeeOther)
}

func (a *App) handleProfileDetails(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r).Username
	_ = r.ParseForm()
	req := auth.UpdateDetailsRequest{
		Name:  r.Form.Get("name"),
		Email: r.Form.Get("email"),
	}

	au, _, err := a.authenticator()
	if err == nil {
		var upd auth.AccountUpdate
		upd, err = au.UpdateDetails(user, req)
		if err == nil {
			err = a.update(upd.Apply)
		}
		metrics.AuthEvent(string(auth.OpUpdateDetails), outcome(err))
	}
	if err != nil {
		logger.Warn("Profile update failed for %s from %s: %v", user, remoteIP(r), err)
		data := a.profileData(r)
		data.Flash = humanError(err)
		data.FlashKind = "err"
		data.FormName = req.Name
		data.FormEmail = req.Email
		a.renderPage(w, "profile", data)
		return
	}
	logger.Info("User %s updated profile details from %s", user, remoteIP(r))
	http.Redirect(w, r, "/profile?ok=details", http.StatusSeeOther)
}

type profileExport struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (a *App) handleProfileExport(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.Username+"_profile.json"))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(profileExport{Name: sess.Name, Username: sess.Username, Email: sess.Email}); err != nil {
		logger.Error("Profile export for %s failed: %v", sess.Username, err)
	}
}

// handleProfileDelete only confirms intent. Accounts are never removed.
func (a *App) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	user := sessionFrom(r).Username
	_ = r.ParseForm()
	data := a.profileData(r)
	if strings.TrimSpace(r.Form.Get("confirm")) != "DELETE" {
		data.Flash = "Please type DELETE to confirm."
		data.FlashKind = "err"
		a.renderPage(w, "profile", data)
		return
	}
	logger.Warn("User %s requested account deletion from %s; deletion is not available", user, remoteIP(r))
	data.Flash = "Account deletion is not available. Your request was noted and nothing was deleted."
	data.FlashKind = "err"
	a.renderPage(w, "profile", data)
}
