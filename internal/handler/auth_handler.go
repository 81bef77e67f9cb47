package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"security-service/internal/service"
	"security-service/internal/util"
)

// AuthHandler handles HTTP requests for login, registration and logout.
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRoutes registers the auth routes. Logout requires a valid
// token and sits behind the auth middleware.
func (h *AuthHandler) RegisterRoutes(router chi.Router, authMW func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Post("/logout", h.Logout)
		})
	})
}

// Login authenticates a user and returns a bearer token. Every failure
// mode answers the same generic 401 body: which rule or credential
// check refused the login is never revealed to the caller.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	username := util.SanitizeInput(req.Username)
	signed, err := h.authService.Login(ctx, username, req.Password, clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTooManyAttempts):
			respondWithError(w, http.StatusTooManyRequests, service.ErrTooManyAttempts, "Try again later")
		default:
			respondWithError(w, http.StatusUnauthorized, service.ErrAuthenticationFailed, "Authentication failed")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"token":      signed,
		"token_type": "Bearer",
	}, "Login successful"))
	util.Info("User logged in via HTTP",
		util.String("username", username),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Register creates a new user account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	username := util.SanitizeInput(req.Username)
	user, err := h.authService.Register(ctx, username, req.Password, clientIP(r))
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			respondWithError(w, http.StatusConflict, err, "Username is already taken")
			return
		}
		respondWithError(w, http.StatusBadRequest, err, "Failed to register user")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(user, "User registered successfully"))
	util.Info("User registered via HTTP",
		util.String("user_id", user.UserID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// Logout revokes the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.authService.Logout(ctx, r.Header.Get("Authorization"), clientIP(r)); err != nil {
		respondWithError(w, http.StatusUnauthorized, errors.New("unauthorized"), "Failed to log out")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}
