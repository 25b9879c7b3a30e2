package handlers

import (
	"errors"
	"net/http"
	"strings"

	"food-delivery-client/middleware"
	"food-delivery-client/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" binding:"omitempty,eqfield=Password"`
	Phone           string `json:"phone"`
	FirstName       string `json:"first_name" binding:"required"`
	LastName        string `json:"last_name" binding:"required"`
	UserType        string `json:"user_type" binding:"required,oneof=CLIENT RESTAURANT SUPERMARCHE LIVREUR"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// Register creates a new account and opens a session for it
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bind(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.Account
	if err := h.DB.Unscoped().Where("email = ?", email).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"email": []string{"An account with this email already exists."}})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	acc := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		UserType:     req.UserType,
		IsActive:     true,
	}
	if err := h.DB.Create(&acc).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	h.Log.WithField("user_type", acc.UserType).Info("account registered")

	h.issueSession(c, http.StatusCreated, &acc)
}

// Login authenticates with email and password
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, &req) {
		return
	}

	var acc models.Account
	err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&acc).Error
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "No active account found with the given credentials"})
		return
	}
	if !acc.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{
			"detail": "User account is deactivated",
			"code":   middleware.CodeAccountDeactivated,
		})
		return
	}

	h.issueSession(c, http.StatusOK, &acc)
}

func (h *Handler) issueSession(c *gin.Context, status int, acc *models.Account) {
	access, err := h.Tokens.GenerateAccess(acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	raw, hash, expires, err := h.Tokens.GenerateRefresh()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	rt := models.RefreshToken{ID: uuid.NewString(), AccountID: acc.ID, TokenHash: hash, ExpiresAt: expires}
	if err := h.DB.Create(&rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store token"})
		return
	}

	c.JSON(status, gin.H{
		"access":  access,
		"refresh": raw,
		"user":    acc.Profile(),
	})
}

// Refresh exchanges a refresh token for a new access token
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bind(c, &req) {
		return
	}
	invalid := gin.H{"detail": "Token is invalid or expired", "code": middleware.CodeTokenNotValid}

	var rt models.RefreshToken
	if err := h.DB.Where("token_hash = ?", middleware.HashToken(req.Refresh)).First(&rt).Error; err != nil {
		c.JSON(http.StatusUnauthorized, invalid)
		return
	}
	if rt.Revoked || h.Tokens.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, invalid)
		return
	}

	var acc models.Account
	if err := h.DB.Where("id = ?", rt.AccountID).First(&acc).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Utilisateur non trouvé", "code": middleware.CodeUserNotFound})
		return
	}
	if !acc.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "User account is deactivated", "code": middleware.CodeAccountDeactivated})
		return
	}

	access, err := h.Tokens.GenerateAccess(&acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

// Logout revokes the given refresh token. The body is optional.
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Refresh != "" {
		err := h.DB.Model(&models.RefreshToken{}).
			Where("token_hash = ?", middleware.HashToken(req.Refresh)).
			Update("revoked", true).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke token"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Successfully logged out."})
}

// SeedAdmin creates the admin account when it does not exist yet.
func SeedAdmin(db *gorm.DB, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	var existing models.Account
	err := db.Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Create(&models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    "Admin",
		UserType:     models.UserTypeAdmin,
		IsActive:     true,
		IsVerified:   true,
	}).Error
}
