package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tomzdev/spotify-migration-tool/auth"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/sessions"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type profileResponse struct {
	Account string               `json:"account"`
	User    sessions.UserProfile `json:"user"`
	Next    string               `json:"next"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type homeResponse struct {
	App    string            `json:"app"`
	Login  map[string]string `json:"login"`
	Status string            `json:"status"`
}

// HomeHandler is the landing route when no front end is mounted in front of the service.
func (s *Server) HomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		login := make(map[string]string, len(sessions.Accounts))
		for _, account := range sessions.Accounts {
			login[account.String()] = fmt.Sprintf(routeLoginFormat, account)
		}
		writeJSON(w, http.StatusOK, homeResponse{App: s.config.GetAppName(), Login: login, Status: RouteStatus})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// LoginHandler starts the authorization redirect for one account.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := sessions.ParseAccount(r.PathValue("account"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		authURL, err := s.flow.BeginLogin(r.Context(), sessionIDFrom(r), account, r.URL.Query().Get("email"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler finishes the authorization round trip and sends the browser on to
// the other account's login or to the preview page.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cb := auth.Callback{
			Code:             q.Get("code"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
			State:            q.Get("state"),
		}

		var (
			account sessions.Account
			err     error
		)
		if raw := r.PathValue("account"); raw != "" {
			account, err = sessions.ParseAccount(raw)
		} else {
			account, err = auth.AccountFromState(cb.State)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("callback for unknown account")
			s.redirectWithError(w, r, autherrors.UserMessage(err))
			return
		}

		result, err := s.flow.CompleteLogin(r.Context(), sessionIDFrom(r), account, cb)
		if err != nil {
			s.redirectWithError(w, r, autherrors.UserMessage(err))
			return
		}
		http.Redirect(w, r, s.nextStepURL(result.Next), http.StatusFound)
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.flow.Status(r.Context(), sessionIDFrom(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) LogoutAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := sessions.ParseAccount(r.PathValue("account"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.flow.Logout(r.Context(), sessionIDFrom(r), account); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

// LogoutHandler signs both accounts out and drops the session cookie.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.flow.LogoutAll(r.Context(), sessionIDFrom(r)); err != nil {
			s.logger.Error().Err(err).Msg("failed to clear session on logout")
		}
		s.expireSessionCookie(w, r)
		http.Redirect(w, r, s.config.GetHomeURL(), http.StatusFound)
	}
}

// ProfileHandler retries the profile fetch for an account that already has tokens.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := sessions.ParseAccount(r.PathValue("account"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		result, err := s.flow.RetryProfile(r.Context(), sessionIDFrom(r), account)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profileResponse{
			Account: result.Account.String(),
			User:    result.Profile,
			Next:    s.nextStepURL(result.Next),
		})
	}
}

// TokenHandler hands the migration client a usable access token, refreshing it first
// when it has expired.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := sessions.ParseAccount(r.PathValue("account"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tokens, err := s.tokens.EnsureFresh(r.Context(), sessionIDFrom(r), account)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tokens.AccessToken, ExpiresAt: tokens.ExpiresAt()})
	}
}

func (s *Server) PoolStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.pool.UsageStats())
	}
}

func (s *Server) PoolOverloadedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overloaded := s.pool.Overloaded()
		if overloaded == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}
		writeJSON(w, http.StatusOK, overloaded)
	}
}

func (s *Server) SetSlotActiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setActiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "body must be {\"active\": bool}"})
			return
		}
		if err := s.pool.SetActive(r.PathValue("id"), *req.Active); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

func (s *Server) ReleaseUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.pool.ReleaseUser(r.Context(), r.PathValue("userID")); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}

func (s *Server) nextStepURL(next auth.Decision) string {
	if next.Kind == auth.DecisionBothReady {
		return s.config.GetPreviewURL()
	}
	return fmt.Sprintf(routeLoginFormat, next.Account)
}

// redirectWithError sends the browser to the error page with a readable message
func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, errorMsg string) {
	target := s.config.GetErrorURL()
	u, err := url.Parse(target)
	if err != nil {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	q := u.Query()
	q.Set("message", errorMsg)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// statusFor maps an error kind to the HTTP status returned by the JSON routes.
func statusFor(err error) int {
	switch {
	case autherrors.Is(err, autherrors.ErrInvalidAccount), autherrors.Is(err, autherrors.ErrUnknownSlot):
		return http.StatusNotFound
	case autherrors.Is(err, autherrors.ErrNotAuthenticated), autherrors.Is(err, autherrors.ErrRefreshFailed):
		return http.StatusUnauthorized
	case autherrors.Is(err, autherrors.ErrPoolExhausted):
		return http.StatusServiceUnavailable
	case autherrors.Is(err, autherrors.ErrProfileIncomplete), autherrors.Is(err, autherrors.ErrProviderError),
		autherrors.Is(err, autherrors.ErrForbidden), autherrors.Is(err, autherrors.ErrInsufficientScope):
		return http.StatusBadGateway
	case autherrors.Is(err, autherrors.ErrSessionNotFound):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: autherrors.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
