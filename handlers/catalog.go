package handlers

import (
	"net/http"

	"food-delivery-client/middleware"
	"food-delivery-client/models"
	"food-delivery-client/statemachine"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ── Public catalog ──────────────────────────────────────────────────────────

// ListMerchants returns restaurants and supermarkets (public)
func (h *Handler) ListMerchants(c *gin.Context) {
	var merchants []models.Merchant
	query := h.DB

	if kind := c.Query("kind"); kind != "" {
		query = query.Where("kind = ?", models.BackendUserType(kind))
	}
	if cuisine := c.Query("cuisine"); cuisine != "" {
		query = query.Where("cuisine LIKE ?", "%"+cuisine+"%")
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	if c.Query("open") == "true" {
		query = query.Where("is_open = ?", true)
	}

	if err := query.Order("name").Find(&merchants).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list merchants"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(merchants), "results": merchants})
}

// ListProducts returns a merchant's catalog in the client product shape.
// Paginated listings wrap the items in results.
func (h *Handler) ListProducts(c *gin.Context) {
	var merchant models.Merchant
	if err := h.DB.Where("id = ?", c.Param("id")).First(&merchant).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return
	}

	var items []models.CatalogItem
	query := h.DB.Where("merchant_id = ?", merchant.ID)
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}
	if c.Query("available") == "true" {
		query = query.Where("is_available = ?", true)
	}
	if err := query.Order("name").Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products"})
		return
	}

	products := make([]models.ProductWire, 0, len(items))
	for i := range items {
		products = append(products, items[i].Wire(merchant.Kind))
	}
	if c.Query("page") != "" {
		c.JSON(http.StatusOK, gin.H{"count": len(products), "next": nil, "previous": nil, "results": products})
		return
	}
	c.JSON(http.StatusOK, products)
}

// GetSessionMachineInfo returns the client session machine for documentation
func GetSessionMachineInfo(c *gin.Context) {
	transitions := statemachine.GetAllTransitions()
	info := make([]gin.H, 0, len(transitions))
	for _, t := range transitions {
		info = append(info, gin.H{
			"from":    t.From,
			"event":   t.Event,
			"outcome": t.Outcome,
			"to":      t.To,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"state_machine": info,
		"description":   "Client Session State Machine",
	})
}

// ── Merchant management ─────────────────────────────────────────────────────

type CreateMerchantRequest struct {
	Name        string `json:"name" binding:"required"`
	Cuisine     string `json:"cuisine"`
	Address     string `json:"address" binding:"required"`
	Description string `json:"description"`
}

// CreateMerchant lets a restaurant or supermarket account open its store.
// The store kind follows the owner's user_type.
func (h *Handler) CreateMerchant(c *gin.Context) {
	acc := middleware.GetAccount(c)
	var req CreateMerchantRequest
	if !bind(c, &req) {
		return
	}
	if acc.MerchantID != "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "This account already operates a store."})
		return
	}

	merchant := models.Merchant{
		ID:          uuid.NewString(),
		OwnerID:     acc.ID,
		Kind:        acc.UserType,
		Name:        req.Name,
		Cuisine:     req.Cuisine,
		Address:     req.Address,
		Description: req.Description,
		IsOpen:      true,
	}
	if err := h.DB.Create(&merchant).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create merchant"})
		return
	}
	if err := h.DB.Model(acc).Update("merchant_id", merchant.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link merchant"})
		return
	}
	c.JSON(http.StatusCreated, merchant)
}

// GetMyMerchant fetches the store owned by the logged-in user
func (h *Handler) GetMyMerchant(c *gin.Context) {
	merchant, ok := h.ownedMerchant(c)
	if !ok {
		return
	}
	h.DB.Where("merchant_id = ?", merchant.ID).Order("name").Find(&merchant.Items)
	c.JSON(http.StatusOK, merchant)
}

// UpdateMerchant updates store details
func (h *Handler) UpdateMerchant(c *gin.Context) {
	merchant, ok := h.ownedMerchant(c)
	if !ok {
		return
	}
	var req map[string]interface{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Malformed request body"})
		return
	}
	allowed := map[string]bool{"name": true, "cuisine": true, "address": true, "description": true, "is_open": true}
	update := map[string]interface{}{}
	for k, v := range req {
		if allowed[k] {
			update[k] = v
		}
	}
	if len(update) > 0 {
		if err := h.DB.Model(merchant).Updates(update).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update merchant"})
			return
		}
		h.DB.Where("id = ?", merchant.ID).First(merchant)
	}
	c.JSON(http.StatusOK, merchant)
}

type ProductRequest struct {
	Name               string  `json:"name" binding:"required"`
	Description        string  `json:"description"`
	Price              float64 `json:"price" binding:"required,gt=0"`
	DiscountPercentage float64 `json:"discount_percentage" binding:"gte=0,lte=100"`
	Category           string  `json:"category"`
	Unit               string  `json:"unit"`
	Available          *bool   `json:"available"`
}

// AddProduct adds an item to the owner's catalog
func (h *Handler) AddProduct(c *gin.Context) {
	merchant, ok := h.ownedMerchant(c)
	if !ok {
		return
	}
	var req ProductRequest
	if !bind(c, &req) {
		return
	}

	item := models.CatalogItem{
		ID:                 uuid.NewString(),
		MerchantID:         merchant.ID,
		Name:               req.Name,
		Description:        req.Description,
		Price:              req.Price,
		DiscountPercentage: req.DiscountPercentage,
		Category:           req.Category,
		Unit:               req.Unit,
		IsAvailable:        req.Available == nil || *req.Available,
	}
	if err := h.DB.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add product"})
		return
	}
	c.JSON(http.StatusCreated, item.Wire(merchant.Kind))
}

// UpdateProduct replaces an item's fields (only by the owner)
func (h *Handler) UpdateProduct(c *gin.Context) {
	merchant, item, ok := h.ownedItem(c)
	if !ok {
		return
	}
	var req ProductRequest
	if !bind(c, &req) {
		return
	}
	item.Name = req.Name
	item.Description = req.Description
	item.Price = req.Price
	item.DiscountPercentage = req.DiscountPercentage
	item.Category = req.Category
	item.Unit = req.Unit
	if req.Available != nil {
		item.IsAvailable = *req.Available
	}
	if err := h.DB.Save(item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product"})
		return
	}
	c.JSON(http.StatusOK, item.Wire(merchant.Kind))
}

// DeleteProduct removes an item
func (h *Handler) DeleteProduct(c *gin.Context) {
	_, item, ok := h.ownedItem(c)
	if !ok {
		return
	}
	if err := h.DB.Delete(item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ownedMerchant(c *gin.Context) (*models.Merchant, bool) {
	acc := middleware.GetAccount(c)
	var merchant models.Merchant
	if err := h.DB.Where("owner_id = ?", acc.ID).First(&merchant).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No store found for your account"})
		return nil, false
	}
	return &merchant, true
}

func (h *Handler) ownedItem(c *gin.Context) (*models.Merchant, *models.CatalogItem, bool) {
	merchant, ok := h.ownedMerchant(c)
	if !ok {
		return nil, nil, false
	}
	var item models.CatalogItem
	if err := h.DB.Where("id = ?", c.Param("itemId")).First(&item).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
		return nil, nil, false
	}
	if item.MerchantID != merchant.ID {
		c.JSON(http.StatusForbidden, gin.H{"detail": "You don't own this product"})
		return nil, nil, false
	}
	return merchant, &item, true
}
