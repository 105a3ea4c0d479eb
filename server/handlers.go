package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
)

type loginResponse struct {
	Principal *auth.Principal `json:"principal"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// LoginHandler exchanges JSON credentials for a session cookie.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds identity.Credentials
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&creds); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Description: "malformed JSON body"})
			return
		}
		if err := s.validate.Struct(creds); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Description: "username and password are required"})
			return
		}

		sessionID, principal, err := s.sessionGuard().Login(r.Context(), creds)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setSessionCookie(w, r, sessionID)
		s.writeJSON(w, http.StatusOK, loginResponse{Principal: principal})
	}
}

// RefreshHandler redeems the session's refresh token for new access tokens.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := RequestContext(r, s.config.GetSessionCookie()).SessionID()
		if !ok {
			s.writeError(w, r, auth.Errorf(auth.NotFound, "server.Refresh", "no session cookie"))
			return
		}
		principal, err := s.sessionGuard().Refresh(r.Context(), sessionID)
		if err != nil {
			if auth.KindOf(err) == auth.RefreshExpired {
				s.clearSessionCookie(w, r)
			}
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, loginResponse{Principal: principal})
	}
}

// LogoutHandler destroys the session. Logging out twice is not an error.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID, ok := RequestContext(r, s.config.GetSessionCookie()).SessionID(); ok {
			if err := s.sessionGuard().Logout(r.Context(), sessionID); err != nil && !errors.Is(err, auth.ErrNotFound) {
				s.writeError(w, r, err)
				return
			}
		}
		s.clearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// MeHandler returns the principal admitted by RequireGuard.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: auth.NotFound.String()})
			return
		}
		s.writeJSON(w, http.StatusOK, principal)
	}
}

// statusFor maps a failure kind to an HTTP status. Cancelled has no status:
// the client has gone away.
func statusFor(kind auth.ErrorKind) int {
	switch kind {
	case auth.ProviderUnavailable:
		return http.StatusServiceUnavailable
	case auth.Malformed, auth.Expired, auth.BadSignature, auth.BadIssuer, auth.BadAudience,
		auth.Revoked, auth.RefreshExpired, auth.NotFound, auth.InvalidCredentials:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	if kind == auth.Cancelled {
		s.log.Debug().Str("path", r.URL.Path).Msg("client cancelled request")
		return
	}
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected guard failure")
	}
	if status == http.StatusUnauthorized {
		if _, ok := RequestContext(r, s.config.GetSessionCookie()).BearerToken(); ok {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
	}
	s.writeJSON(w, status, errorResponse{Error: kind.String()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("writing response")
	}
}

// setSessionCookie sets the session cookie
func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookie(),
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.config.GetSessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.GetSessionCookie(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	})
}
