package routes

import (
	"food-delivery-client/handlers"
	"food-delivery-client/middleware"
	"food-delivery-client/models"

	"github.com/gin-gonic/gin"
)

// SetupRoutes mounts the API under /api. Paths keep their trailing slash, the
// form clients call them with.
func SetupRoutes(r *gin.Engine, h *handlers.Handler, limiter *middleware.RateLimiter) {
	authRequired := middleware.AuthRequired(h.Tokens, h.DB)

	// ── Public auth routes ─────────────────────────────────────────
	public := r.Group("/api/auth")
	public.Use(limiter.Handler())
	{
		public.POST("/register/", h.Register)
		public.POST("/login/", h.Login)
		public.POST("/refresh/", h.Refresh)
		public.POST("/logout/", h.Logout)
		public.POST("/password-reset/", h.RequestPasswordReset)
		public.POST("/password-confirm/", h.ConfirmPasswordReset)
	}

	// ── Catalog (no auth needed) ───────────────────────────────────
	catalog := r.Group("/api")
	{
		catalog.GET("/merchants/", h.ListMerchants)
		catalog.GET("/merchants/:id/products/", h.ListProducts)

		catalog.GET("/state-machine/", handlers.GetSessionMachineInfo)
	}

	// ── Authenticated routes ───────────────────────────────────────
	me := r.Group("/api/auth")
	me.Use(authRequired)
	{
		me.GET("/me/", h.GetMe)
		me.PUT("/me/", h.UpdateMe)
		me.DELETE("/me/", h.DeleteMe)
		me.POST("/password/", h.ChangePassword)
	}

	// ── Merchant owner routes ──────────────────────────────────────
	merchant := r.Group("/api/merchant")
	merchant.Use(authRequired, middleware.RoleRequired(models.UserTypeRestaurant, models.UserTypeSupermarket))
	{
		merchant.POST("/", h.CreateMerchant)
		merchant.GET("/", h.GetMyMerchant)
		merchant.PUT("/", h.UpdateMerchant)

		merchant.POST("/products/", h.AddProduct)
		merchant.PUT("/products/:itemId/", h.UpdateProduct)
		merchant.DELETE("/products/:itemId/", h.DeleteProduct)
	}

	// ── Admin routes ───────────────────────────────────────────────
	admin := r.Group("/api/admin")
	admin.Use(authRequired, middleware.RoleRequired(models.UserTypeAdmin))
	{
		admin.GET("/users/", h.AdminListUsers)
		admin.DELETE("/users/:id/", h.AdminDeleteUser)
		admin.PUT("/users/:id/active/", h.AdminSetActive)
	}
}
