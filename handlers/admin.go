package handlers

import (
	"net/http"

	"food-delivery-client/models"

	"github.com/gin-gonic/gin"
)

// AdminListUsers returns all accounts, optionally filtered by user_type
func (h *Handler) AdminListUsers(c *gin.Context) {
	var accounts []models.Account
	query := h.DB
	if userType := c.Query("user_type"); userType != "" {
		query = query.Where("user_type = ?", userType)
	}
	if err := query.Order("created_at").Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	users := make([]models.UserProfile, 0, len(accounts))
	for i := range accounts {
		users = append(users, accounts[i].Profile())
	}
	c.JSON(http.StatusOK, gin.H{"count": len(users), "results": users})
}

// AdminDeleteUser soft-deletes an account. Its sessions end with
// user_not_found on their next request.
func (h *Handler) AdminDeleteUser(c *gin.Context) {
	var acc models.Account
	if err := h.DB.Where("id = ?", c.Param("id")).First(&acc).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if err := h.deleteAccount(acc.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	h.Log.WithField("account_id", acc.ID).Info("account deleted by admin")
	c.Status(http.StatusNoContent)
}

// AdminSetActive toggles an account's is_active flag
func (h *Handler) AdminSetActive(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	var acc models.Account
	if err := h.DB.Where("id = ?", c.Param("id")).First(&acc).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}
	if err := h.DB.Model(&acc).Update("is_active", *req.IsActive).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}
	acc.IsActive = *req.IsActive
	if !acc.IsActive {
		if err := h.revokeAll(acc.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke tokens"})
			return
		}
	}
	c.JSON(http.StatusOK, acc.Profile())
}
