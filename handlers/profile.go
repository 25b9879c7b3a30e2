package handlers

import (
	"net/http"
	"strings"
	"time"

	"food-delivery-client/middleware"
	"food-delivery-client/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const resetTokenTTL = time.Hour

type UpdateProfileRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	Phone     *string `json:"phone"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	UserType  *string `json:"user_type"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

type ConfirmResetRequest struct {
	Token           string `json:"token" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=NewPassword"`
}

// GetMe returns the authenticated account's profile
func (h *Handler) GetMe(c *gin.Context) {
	acc := middleware.GetAccount(c)
	c.JSON(http.StatusOK, acc.Profile())
}

// UpdateMe edits profile fields. user_type is fixed once registered.
func (h *Handler) UpdateMe(c *gin.Context) {
	acc := middleware.GetAccount(c)
	var req UpdateProfileRequest
	if !bind(c, &req) {
		return
	}
	if req.UserType != nil && *req.UserType != acc.UserType {
		c.JSON(http.StatusBadRequest, gin.H{"user_type": []string{"This field cannot be changed."}})
		return
	}

	update := map[string]interface{}{}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email != acc.Email {
			var count int64
			h.DB.Model(&models.Account{}).Unscoped().Where("email = ?", email).Count(&count)
			if count > 0 {
				c.JSON(http.StatusBadRequest, gin.H{"email": []string{"An account with this email already exists."}})
				return
			}
		}
		update["email"] = email
	}
	if req.Phone != nil {
		update["phone"] = *req.Phone
	}
	if req.FirstName != nil {
		update["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		update["last_name"] = *req.LastName
	}
	if len(update) > 0 {
		if err := h.DB.Model(acc).Updates(update).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
			return
		}
		h.DB.Where("id = ?", acc.ID).First(acc)
	}
	c.JSON(http.StatusOK, acc.Profile())
}

// DeleteMe soft-deletes the account. Outstanding tokens stop working on the
// next authenticated call.
func (h *Handler) DeleteMe(c *gin.Context) {
	acc := middleware.GetAccount(c)
	if err := h.deleteAccount(acc.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete account"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteAccount(id string) error {
	if err := h.DB.Where("id = ?", id).Delete(&models.Account{}).Error; err != nil {
		return err
	}
	return h.revokeAll(id)
}

func (h *Handler) revokeAll(accountID string) error {
	return h.DB.Model(&models.RefreshToken{}).
		Where("account_id = ? AND revoked = ?", accountID, false).
		Update("revoked", true).Error
}

// ChangePassword verifies the old password, sets the new one and revokes
// every refresh token of the account.
func (h *Handler) ChangePassword(c *gin.Context) {
	acc := middleware.GetAccount(c)
	var req ChangePasswordRequest
	if !bind(c, &req) {
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.OldPassword)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"old_password": []string{"Wrong password."}})
		return
	}
	if err := h.setPassword(acc.ID, req.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Password updated."})
}

func (h *Handler) setPassword(accountID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = h.DB.Model(&models.Account{}).Where("id = ?", accountID).
		Update("password_hash", string(hash)).Error
	if err != nil {
		return err
	}
	return h.revokeAll(accountID)
}

// RequestPasswordReset answers 200 whether or not the email is registered.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if !bind(c, &req) {
		return
	}
	ok := gin.H{"detail": "If the account exists, a reset email has been sent."}

	var acc models.Account
	if err := h.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&acc).Error; err != nil {
		c.JSON(http.StatusOK, ok)
		return
	}
	raw, hash, _, err := h.Tokens.GenerateRefresh()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	reset := models.PasswordReset{
		ID:        uuid.NewString(),
		AccountID: acc.ID,
		TokenHash: hash,
		ExpiresAt: h.Tokens.Now().Add(resetTokenTTL),
	}
	if err := h.DB.Create(&reset).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store token"})
		return
	}
	if h.ResetMailer != nil {
		h.ResetMailer(acc.Email, raw)
	}
	c.JSON(http.StatusOK, ok)
}

// ConfirmPasswordReset consumes a reset token and sets the new password
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req ConfirmResetRequest
	if !bind(c, &req) {
		return
	}
	var reset models.PasswordReset
	err := h.DB.Where("token_hash = ?", middleware.HashToken(req.Token)).First(&reset).Error
	if err != nil || reset.Used || h.Tokens.Now().After(reset.ExpiresAt) {
		c.JSON(http.StatusBadRequest, gin.H{"token": []string{"Invalid or expired token."}})
		return
	}
	if err := h.setPassword(reset.AccountID, req.NewPassword); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset password"})
		return
	}
	h.DB.Model(&reset).Update("used", true)
	c.JSON(http.StatusOK, gin.H{"detail": "Password has been reset."})
}
