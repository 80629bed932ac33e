package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/middleware"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/response"
	"github.com/learnlens/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"displayName" binding:"required"`
	Role        string `json:"role"` // optional, defaults to student
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var validate = validator.New()

// checkEmail normalizes email in place; the format check runs on the trimmed value.
func checkEmail(email *string) bool {
	*email = normalizeEmail(*email)
	return validate.Var(*email, "required,email") == nil
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// SessionStopper ends the live watch sessions of a user who signs out.
type SessionStopper interface {
	StopUser(userID string) int
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo     *Repository
	jwt      *JWTService
	sessions SessionStopper
	logger   *zap.Logger
}

// NewHandler creates an auth handler. sessions may be nil.
func NewHandler(repo *Repository, jwt *JWTService, sessions SessionStopper, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, sessions: sessions, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !checkEmail(&req.Email) {
		response.BadRequest(c, "invalid email")
		return
	}

	role := models.RoleStudent
	switch req.Role {
	case "", "student":
	case "instructor":
		role = models.RoleInstructor
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		response.SaveFailed(c)
		return
	}

	user := &models.User{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         role,
		PasswordHash: hash,
	}
	if err := h.repo.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, "email already registered")
			return
		}
		h.logger.Error("create user", zap.Error(err))
		response.SaveFailed(c)
		return
	}

	token, err := h.jwt.Generate(*user)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.SaveFailed(c)
		return
	}

	response.Created(c, TokenResponse{Token: token, User: *user})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !checkEmail(&req.Email) {
		response.BadRequest(c, "invalid email")
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("login lookup", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(*user)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.LoadFailed(c)
		return
	}

	response.OK(c, TokenResponse{Token: token, User: *user})
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id, _ := middleware.CurrentIdentity(c)
	user, err := h.repo.GetByID(c.Request.Context(), id.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user")
			return
		}
		h.logger.Error("get current user", zap.Error(err))
		response.LoadFailed(c)
		return
	}
	response.OK(c, user)
}

// Logout handles POST /auth/logout. Tokens are stateless; signing out stops the
// user's watch sessions so no minute is credited after it.
func (h *Handler) Logout(c *gin.Context) {
	id, _ := middleware.CurrentIdentity(c)
	stopped := 0
	if h.sessions != nil {
		stopped = h.sessions.StopUser(id.ID)
	}
	response.OK(c, gin.H{"stoppedSessions": stopped})
}
