package handler

import (
	"net/http"
	"time"

	"companion-auth/internal/model"
)

// RefreshPath scopes refresh credentials so browsers only send them to the
// refresh endpoint.
const RefreshPath = "/auth/refresh"

type CookieConfig struct {
	Prefix string
	Secure bool
	Domain string
	MaxAge time.Duration
}

func (c CookieConfig) SIDName() string     { return c.Prefix + "sid" }
func (c CookieConfig) RefreshName() string { return c.Prefix + "refresh" }
func (c CookieConfig) CSRFName() string    { return c.Prefix + "csrf" }

func (c CookieConfig) cookie(name string, value string, httpOnly bool, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     RefreshPath,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	}
}

// setSessionCookies hands the raw session secrets to the browser.
func (c CookieConfig) setSessionCookies(w http.ResponseWriter, session *model.Session, secrets model.Secrets) {
	maxAge := int(c.MaxAge.Seconds())
	http.SetCookie(w, c.cookie(c.SIDName(), session.ID, true, maxAge))
	http.SetCookie(w, c.cookie(c.RefreshName(), secrets.Refresh, true, maxAge))
	http.SetCookie(w, c.cookie(c.CSRFName(), secrets.CSRF, false, maxAge))
}

func (c CookieConfig) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(c.SIDName(), "", true, -1))
	http.SetCookie(w, c.cookie(c.RefreshName(), "", true, -1))
	http.SetCookie(w, c.cookie(c.CSRFName(), "", false, -1))
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
