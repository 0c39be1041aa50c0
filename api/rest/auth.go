package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/config"
	"github.com/eroomgame/eroom-server/identity"
	mw "github.com/eroomgame/eroom-server/middleware"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/profile"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler handles registration, sign-in (password and federated), and
// session lifecycle.
type AuthHandler struct {
	db       *gorm.DB
	profiles *profile.Service
	cache    cache.Cache
	sec      config.SecurityConfig
	social   config.SocialConfig
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, profiles *profile.Service, c cache.Cache, sec config.SecurityConfig, soc config.SocialConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, profiles: profiles, cache: c, sec: sec, social: soc, logger: logger}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !model.UsernameRe.MatchString(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-20 letters, digits or underscores"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	u := &model.User{
		Username:     req.Username,
		DisplayName:  req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Provider:     model.ProviderPassword,
		Status:       1,
	}
	if err := h.profiles.Create(u); err != nil {
		switch {
		case errors.Is(err, profile.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		case errors.Is(err, profile.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": identity.KindEmailInUse.Message()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}

	h.issueSession(c, u)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=64"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.profiles.GetByEmail(req.Email)
	if errors.Is(err, profile.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.KindUserNotFound.Message()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if u.PasswordHash == "" {
		// Federated account: no password to check.
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.KindWrongPassword.Message()})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": identity.KindWrongPassword.Message()})
		return
	}
	if u.Status == model.StatusBanned {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	h.issueSession(c, u)
}

type federatedRequest struct {
	Provider    string `json:"provider" binding:"required"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	// ErrorCode carries the provider's failure code when the federated
	// flow did not complete; it is translated once, here.
	ErrorCode string `json:"error_code"`
}

// LoginFederated handles POST /api/auth/federated. The client completes
// the provider flow and posts the resulting profile assertion; a new
// account is auto-provisioned on first sign-in with a derived handle and
// the signup bonus credit grant.
func (h *AuthHandler) LoginFederated(c *gin.Context) {
	var req federatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.ErrorCode != "" {
		kind := identity.KindFromCode(req.ErrorCode)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": kind.Message(),
			"kind":  kind.String(),
		})
		return
	}
	if req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": identity.KindInvalidEmail.Message()})
		return
	}

	u, created, err := h.profiles.ProvisionFederated(
		req.Provider, req.Email, req.DisplayName, req.PhotoURL, h.social.SignupBonusCredits)
	if err != nil {
		h.logger.Error("federated provisioning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign-in failed"})
		return
	}
	if u.Status == model.StatusBanned {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	h.issueSessionStatus(c, u, statusFor(created))
}

type resetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestPasswordReset handles POST /api/auth/password-reset. The
// response does not reveal whether the email is registered.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": identity.KindInvalidEmail.Message()})
		return
	}

	if _, err := h.profiles.GetByEmail(req.Email); err == nil {
		// Delivery is delegated to the mail provider; only the intent is
		// recorded here.
		h.logger.Info("password reset requested", zap.String("email", req.Email))
	}
	c.JSON(http.StatusOK, gin.H{"message": "if the address is registered, a reset email is on its way"})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(tokenStr))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	header := c.GetHeader("Authorization")
	oldToken := strings.TrimPrefix(header, "Bearer ")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(oldToken))

	newToken, err := mw.GenerateToken(userID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.cache.Set(ctx, mw.SessionKey(newToken), strconv.FormatInt(userID, 10), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

func (h *AuthHandler) issueSession(c *gin.Context, u *model.User) {
	h.issueSessionStatus(c, u, http.StatusOK)
}

func (h *AuthHandler) issueSessionStatus(c *gin.Context, u *model.User, status int) {
	token, err := mw.GenerateToken(u.ID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(u.ID, 10), h.sec.JWTTTLH)

	// Update last login (best-effort).
	now := time.Now()
	_ = h.db.Model(u).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": c.ClientIP(),
	})

	c.JSON(status, gin.H{
		"token":    token,
		"user_id":  u.ID,
		"username": u.Username,
	})
}

func statusFor(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
