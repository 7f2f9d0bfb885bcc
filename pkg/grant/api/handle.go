package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/realm-idm/pkg/errors"
	"github.com/tendant/realm-idm/pkg/grant"
)

// TokenHandler handles HTTP requests for the token endpoint
type TokenHandler struct {
	engine *grant.Engine
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(engine *grant.Engine) *TokenHandler {
	return &TokenHandler{
		engine: engine,
	}
}

// ErrorResponse is the token endpoint error body.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// HandleToken runs a grant request and renders the bearer response.
func (h *TokenHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	request, err := decodeTokenRequest(r)
	if err != nil {
		renderGrantError(w, r, err)
		return
	}

	response, err := h.engine.Run(r.Context(), request)
	if err != nil {
		renderGrantError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Handler returns a http.Handler for the token API
func Handler(h *TokenHandler) http.Handler {
	r := chi.NewRouter()

	r.Post("/token", h.HandleToken)

	return r
}

// decodeTokenRequest accepts both JSON and form-encoded token requests.
func decodeTokenRequest(r *http.Request) (grant.Request, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var request grant.Request
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			return grant.Request{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed token request")
		}
		return request, nil
	}

	if err := r.ParseForm(); err != nil {
		return grant.Request{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed token request")
	}

	request := grant.Request{
		GrantType:    r.PostFormValue("grant_type"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		RobotSecret:  r.PostFormValue("robot_secret"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Code:         r.PostFormValue("code"),
		State:        r.PostFormValue("state"),
	}

	var err error
	if request.RealmID, err = formUUID(r, "realm_id"); err != nil {
		return grant.Request{}, err
	}
	if request.RobotID, err = formUUID(r, "robot_id"); err != nil {
		return grant.Request{}, err
	}
	if request.ProviderID, err = formUUID(r, "provider_id"); err != nil {
		return grant.Request{}, err
	}
	return request, nil
}

func formUUID(r *http.Request, field string) (uuid.UUID, error) {
	value := r.PostFormValue(field)
	if value == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, errors.Newf(errors.ErrCodeInvalidInput, "%s is not a valid uuid", field)
	}
	return id, nil
}

// renderGrantError maps a grant failure onto the token endpoint error body.
// Internal failures are logged and never leak their message.
func renderGrantError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.MapErrorCodeToHTTPStatus(code)

	description := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("Token grant failed", "err", err)
		description = "internal error"
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Error:            oauthErrorCode(code),
		ErrorDescription: description,
	})
}

func oauthErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeInvalidInput:
		return "invalid_request"
	case errors.ErrCodeInvalidGrant:
		return "invalid_grant"
	case errors.ErrCodeInvalidCredentials, errors.ErrCodeBindFailed:
		return "invalid_client"
	case errors.ErrCodeTokenExpired, errors.ErrCodeTokenInvalid:
		return "invalid_token"
	case errors.ErrCodeForbidden, errors.ErrCodeInactive:
		return "access_denied"
	default:
		return "server_error"
	}
}
