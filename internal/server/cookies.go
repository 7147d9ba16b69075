package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName holds the anonymous caller id.
	CookieName = "anon_id"
	// CookieMaxAge keeps anonymous threads reachable for a year.
	CookieMaxAge = 365 * 24 * time.Hour

	// UserHeader is set by the auth layer in front of the portal.
	UserHeader = "X-User-Id"

	maxOwnerIDLen = 128
)

// SetAnonCookie sets the HTTP-only anonymous id cookie.
func SetAnonCookie(w http.ResponseWriter, r *http.Request, anonID string) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    anonID,
		Path:     "/",
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	}
	http.SetCookie(w, cookie)
}

// GetAnonCookie reads the anonymous id from the cookie
func GetAnonCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// ownerID resolves the caller identity: the authenticated user, then the
// anonymous id the client sent, then the cookie. Empty when none is set.
func ownerID(r *http.Request, bodyAnonID string) string {
	if id := cleanOwnerID(r.Header.Get(UserHeader)); id != "" {
		return id
	}
	if id := cleanOwnerID(bodyAnonID); id != "" {
		return id
	}
	if id, err := GetAnonCookie(r); err == nil {
		return cleanOwnerID(id)
	}
	return ""
}

// getOrCreateOwnerID is ownerID, minting and setting an anonymous cookie
// for first-time callers.
func getOrCreateOwnerID(r *http.Request, w http.ResponseWriter, bodyAnonID string) string {
	if id := ownerID(r, bodyAnonID); id != "" {
		return id
	}
	id := "anon_" + uuid.NewString()
	SetAnonCookie(w, r, id)
	return id
}

func cleanOwnerID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxOwnerIDLen {
		return ""
	}
	return id
}
