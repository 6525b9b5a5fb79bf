package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/hnrobert/securedash/internal/credstore"
	"github.com/hnrobert/securedash/internal/logger"
)

const activeStatus = "Active"

// userRows builds the overview from the cached store. The rows are for
// display only.
func (a *App) userRows() ([]UserRow, error) {
	cs, err := a.store.LoadCached()
	if err != nil {
		return nil, err
	}
	rows := make([]UserRow, 0, len(cs.Credentials.Usernames))
	for _, u := range cs.Usernames() {
		acct := cs.Credentials.Usernames[u]
		rows = append(rows, UserRow{Username: u, Name: acct.Name, Email: acct.Email, Status: activeStatus})
	}
	return rows, nil
}

func (a *App) handleAdmin(w http.ResponseWriter, r *http.Request) {
	data := a.baseData(r)
	data.MinExpiryDays = credstore.MinExpiryDays
	data.MaxExpiryDays = credstore.MaxExpiryDays

	rows, err := a.userRows()
	if err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
		a.renderPage(w, "admin", data)
		return
	}
	data.Users = rows
	data.TotalUsers = len(rows)

	// Cookie settings are edited, so they come from a fresh load.
	cs, err := a.store.Load()
	if err != nil {
		data.Flash = humanError(err)
		data.FlashKind = "err"
		a.renderPage(w, "admin", data)
		return
	}
	data.CookieName = cs.Cookie.Name
	data.CookieExpiryDays = cs.Cookie.ExpiryDays
	a.renderPage(w, "admin", data)
}

func (a *App) handleAdminUsersCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := a.userRows()
	if err != nil {
		http.Error(w, humanError(err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="user_list.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Username", "Name", "Email", "Status"})
	for _, row := range rows {
		_ = cw.Write([]string{row.Username, row.Name, row.Email, row.Status})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.Error("Writing user list CSV failed: %v", err)
	}
}

func (a *App) handleAdminCookie(w http.ResponseWriter, r *http.Request) {
	adminUser := sessionFrom(r).Username
	_ = r.ParseForm()
	days, err := strconv.Atoi(strings.TrimSpace(r.Form.Get("expiry_days")))
	if err != nil || days < credstore.MinExpiryDays || days > credstore.MaxExpiryDays {
		http.Redirect(w, r, "/admin?err=1", http.StatusSeeOther)
		return
	}
	err = a.update(func(cs *credstore.ConfigStore) error {
		cs.Cookie.ExpiryDays = days
		return nil
	})
	if err != nil {
		logger.Error("Admin %s failed to update cookie expiry: %v", adminUser, err)
		http.Redirect(w, r, "/admin?err=1", http.StatusSeeOther)
		return
	}
	logger.Info("Admin %s set cookie expiry to %d days from %s", adminUser, days, remoteIP(r))
	http.Redirect(w, r, "/admin?ok=cookie", http.StatusSeeOther)
}
