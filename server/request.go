package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/cognito-guard/guard"
)

// httpRequest adapts an *http.Request to guard.RequestContext.
type httpRequest struct {
	r          *http.Request
	cookieName string
}

var _ guard.RequestContext = httpRequest{}

// RequestContext exposes the bearer token and session cookie of r to a guard.
func RequestContext(r *http.Request, cookieName string) guard.RequestContext {
	return httpRequest{r: r, cookieName: cookieName}
}

func (h httpRequest) BearerToken() (string, bool) {
	scheme, token, ok := strings.Cut(h.r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h httpRequest) SessionID() (string, bool) {
	cookie, err := h.r.Cookie(h.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
