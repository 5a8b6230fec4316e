package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/internal/apperr"
	"github.com/mossy-p/telecare-signaling/internal/middleware"
	"github.com/mossy-p/telecare-signaling/internal/models"
	"github.com/rs/zerolog/log"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=patient doctor admin"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues an identity token for local development.
// Any username/password combination is accepted, so it is disabled in production.
func (h *Handler) Login(c *gin.Context) {
	if h.production {
		respondError(c, apperr.New(apperr.NotFound, "Not found"))
		return
	}

	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := models.Validate(req); err != nil {
		respondError(c, err)
		return
	}
	if req.Role == "" {
		req.Role = middleware.RolePatient
	}

	token, err := middleware.IssueToken(h.jwtSecret, req.Username, req.Role, 24*time.Hour)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.UpstreamFailure, err, "Failed to generate token"))
		return
	}

	log.Debug().Str("user_id", req.Username).Str("role", req.Role).Msg("Issued demo token")
	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: req.Username,
		Role:   req.Role,
	})
}
