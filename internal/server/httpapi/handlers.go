package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/dmitrijs2005/usersvc/internal/server/services"
)

const maxBodyBytes = 1 << 20

type AuthHandler struct {
	service AuthService
}

type registerRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	LastName string `json:"lastName"`
}

type loginRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID        string    `json:"id"`
	UserName  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type registerResponse struct {
	User    userResponse `json:"user"`
	Message string       `json:"message"`
}

type loginResponse struct {
	UserID       string `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type resetPasswordResponse struct {
	Message     string `json:"message"`
	NewPassword string `json:"newPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	res := h.service.Register(r.Context(), services.RegisterRequest{
		UserName: req.UserName,
		Password: req.Password,
		Email:    req.Email,
		Name:     req.Name,
		LastName: req.LastName,
	})
	if !res.Succeeded() {
		writeMessage(w, statusCode(res.Status), res.Message)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{User: toUserResponse(res.Data), Message: res.Message})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	res := h.service.Login(r.Context(), req.UserName, req.Password)
	if !res.Succeeded() {
		writeMessage(w, statusCode(res.Status), res.Message)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		UserID:       res.Data.UserID,
		AccessToken:  res.Data.AccessToken,
		RefreshToken: res.Data.RefreshToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if !decode(w, r, &req) {
		return
	}

	res := h.service.Logout(r.Context(), req.RefreshToken)
	writeMessage(w, statusCode(res.Status), res.Message)
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if !decode(w, r, &req) {
		return
	}

	res := h.service.RefreshTokens(r.Context(), req.RefreshToken)
	if !res.Succeeded() {
		writeMessage(w, statusCode(res.Status), res.Message)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  res.Data.AccessToken,
		RefreshToken: res.Data.RefreshToken,
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	res := h.service.ResetPassword(r.Context(), r.URL.Query().Get("email"))
	if !res.Succeeded() {
		writeMessage(w, statusCode(res.Status), res.Message)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resetPasswordResponse{Message: res.Message, NewPassword: res.Data})
}

func toUserResponse(u *models.User) userResponse {
	if u == nil {
		return userResponse{}
	}
	return userResponse{
		ID:        u.ID,
		UserName:  u.UserName,
		Email:     u.Email,
		Name:      u.Name,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}

// statusCode maps a service status onto HTTP.
func statusCode(s services.Status) int {
	switch s {
	case services.StatusOK:
		return http.StatusOK
	case services.StatusCreated:
		return http.StatusCreated
	case services.StatusBadRequest:
		return http.StatusBadRequest
	case services.StatusUnauthorized:
		return http.StatusUnauthorized
	case services.StatusNotFound:
		return http.StatusNotFound
	case services.StatusConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
