package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type activeRequest struct {
	IsActive *bool `json:"isActive"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "signup"))

	if !s.config.AllowSignup {
		respondError(w, http.StatusForbidden, "Signup is disabled")
		return
	}

	var req auth.SignupInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("Invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := s.admins.Signup(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, l, "signup", err)
		return
	}

	l.Info("Admin registered", zap.String("admin_id", profile.ID))
	respondJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "login"))

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("Invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	session, err := s.admins.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondServiceError(w, l, "login", err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "me"))

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "No authenticated admin")
		return
	}

	profile, err := s.admins.Get(r.Context(), claims.AdminID)
	if err != nil {
		s.respondServiceError(w, l, "me", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	l := s.logger.With(zap.String("handler", "list_admins"))

	admins, err := s.admins.List(r.Context())
	if err != nil {
		s.respondServiceError(w, l, "list_admins", err)
		return
	}
	if admins == nil {
		admins = []auth.Profile{}
	}
	respondJSON(w, http.StatusOK, admins)
}

func (s *Server) handleGetAdmin(w http.ResponseWriter, r *http.Request) {
	adminID := mux.Vars(r)["id"]
	l := s.logger.With(zap.String("handler", "get_admin"), zap.String("admin_id", adminID))

	profile, err := s.admins.Get(r.Context(), adminID)
	if err != nil {
		s.respondServiceError(w, l, "get_admin", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	adminID := mux.Vars(r)["id"]
	l := s.logger.With(zap.String("handler", "delete_admin"), zap.String("admin_id", adminID))

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.AdminID == adminID {
		respondError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := s.admins.Delete(r.Context(), adminID); err != nil {
		s.respondServiceError(w, l, "delete_admin", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Admin deleted successfully",
	})
}

func (s *Server) handleSetAdminActive(w http.ResponseWriter, r *http.Request) {
	adminID := mux.Vars(r)["id"]
	l := s.logger.With(zap.String("handler", "set_admin_active"), zap.String("admin_id", adminID))

	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		respondError(w, http.StatusBadRequest, "Body must contain a boolean 'isActive'")
		return
	}

	profile, err := s.admins.SetActive(r.Context(), adminID, *req.IsActive)
	if err != nil {
		s.respondServiceError(w, l, "set_admin_active", err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}
