package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pin-auth-service/internal/models"
	"pin-auth-service/internal/service"
	"pin-auth-service/internal/util"
)

// AuthHandler exposes the auth surface over HTTP.
type AuthHandler struct {
	users *service.UserService
	pins  *service.PinAuthService
}

func NewAuthHandler(users *service.UserService, pins *service.PinAuthService) *AuthHandler {
	return &AuthHandler{
		users: users,
		pins:  pins,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type setupPinRequest struct {
	PinCode    string `json:"pin_code"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

type pinLoginRequest struct {
	PinCode      string `json:"pin_code"`
	DeviceID     string `json:"device_id"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterRoutes mounts the auth routes; authMW protects the bearer-only ones.
func (h *AuthHandler) RegisterRoutes(router chi.Router, authMW func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/pin-login", h.PinLogin)

		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Post("/setup-pin", h.SetupPin)
			r.Post("/logout", h.Logout)
			r.Delete("/devices/{deviceID}", h.RevokeDevice)
		})
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	user, err := h.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, Response{
		Success: true,
		Data: map[string]string{
			"user_id":  user.UserID,
			"username": user.Username,
		},
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	pair, err := h.users.Login(r.Context(), req.Username, req.Password, req.DeviceID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: pair})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	pair, err := h.users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: pair})
}

func (h *AuthHandler) SetupPin(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}

	var req setupPinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	deviceToken, err := h.pins.SetupPin(r.Context(), userID, req.PinCode, req.DeviceID, req.DeviceName)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"device_token": deviceToken},
	})
}

func (h *AuthHandler) PinLogin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	pair, err := h.pins.PinLogin(r.Context(), req.PinCode, req.DeviceID, req.RefreshToken)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: pair})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}

	if err := h.users.Logout(r.Context(), userID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true})
}

func (h *AuthHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondUnauthorized(w)
		return
	}

	deviceID := chi.URLParam(r, "deviceID")

	if err := h.users.RevokeDevice(r.Context(), userID, deviceID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true})
}

// respondServiceError maps service errors onto the wire contract. The three
// credential failures share one body on purpose; the response must not reveal
// which check failed.
func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	var rateLimited *service.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		h.respondWithError(w, http.StatusTooManyRequests, errors.New("too many failed attempts"))
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidPin),
		errors.Is(err, service.ErrNoBinding),
		errors.Is(err, service.ErrInvalidRefresh),
		errors.Is(err, service.ErrBadCredentials):
		respondUnauthorized(w)
	case errors.Is(err, service.ErrInvalidPinFormat),
		errors.Is(err, service.ErrInvalidDevice),
		errors.Is(err, service.ErrInvalidUsername),
		errors.Is(err, service.ErrInvalidPassword):
		h.respondWithError(w, http.StatusBadRequest, err)
	case errors.Is(err, service.ErrUsernameTaken):
		h.respondWithError(w, http.StatusConflict, err)
	case errors.Is(err, models.ErrBindingNotFound):
		h.respondWithError(w, http.StatusNotFound, errors.New("device not found"))
	default:
		h.respondWithError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error) {
	util.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
	)
	h.respondWithJSON(w, statusCode, Response{Success: false, Error: err.Error()})
}
