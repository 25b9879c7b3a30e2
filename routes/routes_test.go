package routes

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"food-delivery-client/apiclient"
	"food-delivery-client/bootstrap"
	"food-delivery-client/cart"
	"food-delivery-client/config"
	"food-delivery-client/handlers"
	"food-delivery-client/logging"
	"food-delivery-client/middleware"
	"food-delivery-client/models"
	"food-delivery-client/session"
	"food-delivery-client/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-password"
)

type testEnv struct {
	srv *httptest.Server
	db  *gorm.DB
	h   *handlers.Handler
}

func newEnv(t *testing.T, authRateLimit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := config.OpenDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.RefreshToken{},
		&models.PasswordReset{},
		&models.Merchant{},
		&models.CatalogItem{},
	))
	require.NoError(t, handlers.SeedAdmin(db, adminEmail, adminPassword))

	tokens := middleware.NewTokenIssuer([]byte("test-secret"), time.Minute, time.Hour)
	h := handlers.New(db, tokens, logging.Discard())

	r := gin.New()
	r.Use(gin.Recovery())
	SetupRoutes(r, h, middleware.NewRateLimiter(authRateLimit, logging.Discard()))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testEnv{srv: srv, db: db, h: h}
}

type clientSide struct {
	api   *apiclient.Client
	creds *storage.Credentials
	store *storage.MemoryStore
	sess  *session.Manager
}

func (e *testEnv) newClient(t *testing.T) *clientSide {
	t.Helper()
	store := storage.NewMemoryStore()
	creds := storage.NewCredentials(store)
	api, err := apiclient.New(apiclient.Config{BaseURL: e.srv.URL + "/api"}, creds)
	require.NoError(t, err)
	return &clientSide{api: api, creds: creds, store: store, sess: session.NewManager(api, creds)}
}

func (e *testEnv) registered(t *testing.T, email, label string) *clientSide {
	t.Helper()
	cs := e.newClient(t)
	require.NoError(t, cs.sess.Register(context.Background(), apiclient.RegisterRequest{
		Email:     email,
		Password:  "password123",
		FirstName: "Test",
		LastName:  "User",
		UserType:  label,
	}))
	return cs
}

func (e *testEnv) admin(t *testing.T) *clientSide {
	t.Helper()
	cs := e.newClient(t)
	require.NoError(t, cs.sess.Login(context.Background(), adminEmail, adminPassword))
	return cs
}

func (e *testEnv) activeRefreshTokens(t *testing.T, accountID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.RefreshToken{}).
		Where("account_id = ? AND revoked = ?", accountID, false).Count(&n).Error)
	return n
}

func TestSession_RegisterFetchLogout(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "Jane@Example.com", "client")

	s := cs.sess.Snapshot()
	require.True(t, s.IsAuthenticated)
	assert.Equal(t, "jane@example.com", s.User.Email)
	assert.Equal(t, models.UserTypeClient, s.User.UserType)
	role, ok := s.User.Role()
	require.True(t, ok)
	assert.Equal(t, models.RoleCustomer, role)

	rec, err := cs.creds.Load(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.AccessToken)
	assert.NotEmpty(t, rec.RefreshToken)
	assert.Equal(t, models.UserTypeClient, rec.UserType)

	require.NoError(t, cs.sess.FetchCurrentUser(ctx))
	assert.True(t, cs.sess.Snapshot().IsAuthenticated)

	userID := s.User.ID
	assert.Equal(t, int64(1), env.activeRefreshTokens(t, userID))

	require.NoError(t, cs.sess.Logout(ctx))
	assert.False(t, cs.sess.Snapshot().IsAuthenticated)
	assert.Equal(t, 0, cs.store.Len())
	assert.Equal(t, int64(0), env.activeRefreshTokens(t, userID))
}

func TestSession_LoginFailures(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	env.registered(t, "jane@example.com", "client")

	cs := env.newClient(t)
	err := cs.sess.Login(ctx, "jane@example.com", "wrong-password")
	require.Error(t, err)
	s := cs.sess.Snapshot()
	assert.False(t, s.IsAuthenticated)
	require.NotNil(t, s.Error)
	assert.Equal(t, "No active account found with the given credentials", s.Error.Message)

	err = cs.sess.Register(ctx, apiclient.RegisterRequest{
		Email: "jane@example.com", Password: "password123",
		FirstName: "J", LastName: "D", UserType: "client",
	})
	require.Error(t, err)
	s = cs.sess.Snapshot()
	require.NotNil(t, s.Error)
	assert.Equal(t, apiclient.KindValidation, s.Error.Kind)
	assert.Contains(t, s.Error.Fields, "email")
	assert.Equal(t, "An account with this email already exists.", s.Error.Message)
}

func TestTransport_StaleAccessTokenIsRefreshed(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "client")
	require.NoError(t, cs.creds.SetAccessToken(ctx, "stale"))

	require.NoError(t, cs.sess.FetchCurrentUser(ctx))
	assert.True(t, cs.sess.Snapshot().IsAuthenticated)

	access, err := cs.creds.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "stale", access)
	_, err = apiclient.TokenExpiry(access)
	assert.NoError(t, err)
}

func TestTransport_RevokedRefreshEndsSession(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "client")
	require.NoError(t, cs.creds.SetDarkMode(ctx, true))

	// changing the password revokes every refresh token
	require.NoError(t, cs.sess.ChangePassword(ctx, "password123", "password456"))
	require.NoError(t, cs.creds.SetAccessToken(ctx, "stale"))

	err := cs.sess.FetchCurrentUser(ctx)
	require.ErrorIs(t, err, apiclient.ErrRefreshFailed)

	s := cs.sess.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
	rec, err := cs.creds.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Record{}, rec)
	dark, err := cs.creds.DarkMode(ctx)
	require.NoError(t, err)
	assert.True(t, dark)

	require.NoError(t, cs.sess.Login(ctx, "jane@example.com", "password456"))
	assert.True(t, cs.sess.Snapshot().IsAuthenticated)
}

func TestAdmin_DeletedAccountForcesLogout(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "client")
	require.NoError(t, cs.creds.SetLanguage(ctx, "fr"))
	userID := cs.sess.Snapshot().User.ID

	admin := env.admin(t)
	require.NoError(t, admin.api.Delete(ctx, "admin/users/"+userID+"/"))

	err := cs.sess.FetchCurrentUser(ctx)
	require.Error(t, err)
	assert.True(t, apiclient.IsAccountGone(err))

	s := cs.sess.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.Error)
	assert.Equal(t, 1, cs.store.Len())
	lang, err := cs.creds.Language(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fr", lang)

	// soft-deleted emails stay reserved
	again := env.newClient(t)
	require.Error(t, again.sess.Register(ctx, apiclient.RegisterRequest{
		Email: "jane@example.com", Password: "password123",
		FirstName: "J", LastName: "D", UserType: "client",
	}))
}

func TestTransport_ForcedLogoutOutsideSessionReroutes(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()

	t.Run("account gone", func(t *testing.T) {
		cs := env.registered(t, "jane@example.com", "client")
		b := bootstrap.New(cs.sess, cs.creds, nil)
		defer b.Close()
		route, err := b.Start(ctx)
		require.NoError(t, err)
		require.Equal(t, bootstrap.RouteCustomer, route)

		admin := env.admin(t)
		require.NoError(t, admin.api.Delete(ctx, "admin/users/"+cs.sess.Snapshot().User.ID+"/"))

		err = cs.api.Get(ctx, apiclient.PathMe, nil, nil)
		require.True(t, apiclient.IsAccountGone(err))

		s := cs.sess.Snapshot()
		assert.False(t, s.IsAuthenticated)
		assert.Nil(t, s.User)
		assert.Equal(t, 0, cs.store.Len())
		assert.Equal(t, bootstrap.RouteAuth, b.Route())
	})

	t.Run("refresh refused", func(t *testing.T) {
		cs := env.registered(t, "shop@example.com", "supermarket")
		b := bootstrap.New(cs.sess, cs.creds, nil)
		defer b.Close()
		route, err := b.Start(ctx)
		require.NoError(t, err)
		require.Equal(t, bootstrap.RouteSupermarket, route)

		require.NoError(t, cs.sess.ChangePassword(ctx, "password123", "password456"))
		require.NoError(t, cs.creds.SetAccessToken(ctx, "stale"))

		err = cs.api.Get(ctx, apiclient.PathMe, nil, nil)
		require.ErrorIs(t, err, apiclient.ErrRefreshFailed)

		assert.False(t, cs.sess.Snapshot().IsAuthenticated)
		assert.Equal(t, 0, cs.store.Len())
		assert.Equal(t, bootstrap.RouteAuth, b.Route())
	})
}

func TestAdmin_DeactivatedAccountForcesLogout(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "livreur")
	userID := cs.sess.Snapshot().User.ID
	role, _ := cs.sess.Snapshot().User.Role()
	assert.Equal(t, models.RoleCourier, role)

	admin := env.admin(t)
	var profile models.UserProfile
	require.NoError(t, admin.api.Put(ctx, "admin/users/"+userID+"/active/", map[string]bool{"is_active": false}, &profile))
	require.NotNil(t, profile.IsApproved)
	assert.False(t, *profile.IsApproved)
	assert.Equal(t, int64(0), env.activeRefreshTokens(t, userID))

	err := cs.sess.FetchCurrentUser(ctx)
	assert.True(t, apiclient.IsAccountGone(err))
	assert.False(t, cs.sess.Snapshot().IsAuthenticated)
	assert.Equal(t, 0, cs.store.Len())
}

func TestAdmin_RoutesRequireAdmin(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "client")

	err := cs.api.Get(ctx, "admin/users/", nil, nil)
	require.Error(t, err)
	assert.Equal(t, apiclient.KindForbidden, apiclient.KindOf(err))
	assert.True(t, cs.sess.Snapshot().IsAuthenticated)

	admin := env.admin(t)
	var list struct {
		Count   int                  `json:"count"`
		Results []models.UserProfile `json:"results"`
	}
	require.NoError(t, admin.api.Get(ctx, "admin/users/", url.Values{"user_type": {"CLIENT"}}, &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "jane@example.com", list.Results[0].Email)
}

func TestProfile_UpdateKeepsRole(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	cs := env.registered(t, "jane@example.com", "client")

	name := "Janet"
	require.NoError(t, cs.sess.UpdateProfile(ctx, models.ProfileUpdate{FirstName: &name}))
	s := cs.sess.Snapshot()
	assert.Equal(t, "Janet", s.User.FirstName)
	assert.Equal(t, models.UserTypeClient, s.User.UserType)

	var out map[string]any
	err := cs.api.Put(ctx, apiclient.PathMe, map[string]string{"user_type": "ADMIN"}, &out)
	require.Error(t, err)
	assert.Equal(t, apiclient.KindValidation, apiclient.KindOf(err))
}

func TestPasswordReset(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	env.registered(t, "jane@example.com", "client")

	var sentTo, token string
	env.h.ResetMailer = func(email, tok string) { sentTo, token = email, tok }

	cs := env.newClient(t)
	require.NoError(t, cs.sess.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, token)

	require.NoError(t, cs.sess.RequestPasswordReset(ctx, "jane@example.com"))
	assert.Equal(t, "jane@example.com", sentTo)
	require.NotEmpty(t, token)

	require.Error(t, cs.sess.ConfirmPasswordReset(ctx, token, "newpassword1", "different1"))
	require.NoError(t, cs.sess.ConfirmPasswordReset(ctx, token, "newpassword1", "newpassword1"))
	require.Error(t, cs.sess.ConfirmPasswordReset(ctx, token, "newpassword2", "newpassword2"))

	require.Error(t, cs.sess.Login(ctx, "jane@example.com", "password123"))
	require.NoError(t, cs.sess.Login(ctx, "jane@example.com", "newpassword1"))
}

func TestCatalog_ProductsFeedCart(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	owner := env.registered(t, "chef@example.com", "restaurant")

	var merchant models.Merchant
	require.NoError(t, owner.api.Post(ctx, "merchant/", map[string]string{
		"name": "Chez Test", "address": "1 rue de la Paix", "cuisine": "pizza",
	}, &merchant))
	require.NotEmpty(t, merchant.ID)
	assert.Equal(t, models.UserTypeRestaurant, merchant.Kind)

	require.NoError(t, owner.api.Post(ctx, "merchant/products/", map[string]any{
		"name": "Margherita", "price": 10, "category": "pizza",
	}, nil))
	require.NoError(t, owner.api.Post(ctx, "merchant/products/", map[string]any{
		"name": "Calzone", "price": 12.5, "discount_percentage": 20, "available": false,
	}, nil))

	require.NoError(t, owner.sess.FetchCurrentUser(ctx))
	assert.Equal(t, merchant.ID, owner.sess.Snapshot().User.MerchantID())

	shopper := env.registered(t, "jane@example.com", "client")
	products, err := shopper.api.ListProducts(ctx, merchant.ID, nil)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Calzone", products[0].Name)
	assert.Equal(t, merchant.ID, products[0].Restaurant)
	require.NotNil(t, products[0].Available)
	assert.False(t, *products[0].Available)

	paged, err := shopper.api.ListProducts(ctx, merchant.ID, url.Values{"page": {"1"}, "available": {"true"}})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "Margherita", paged[0].Name)

	c := cart.New()
	_, err = c.AddItem(products[0], 1, merchant.ID, cart.SourceRestaurant)
	require.NoError(t, err)
	_, err = c.AddItem(products[1], 2, merchant.ID, cart.SourceRestaurant)
	require.NoError(t, err)
	totals := c.Totals()
	assert.Equal(t, 3, totals.ItemCount)
	assert.InDelta(t, 30.0, totals.Subtotal, 1e-9)

	// a customer cannot manage a store
	err = shopper.api.Post(ctx, "merchant/products/", map[string]any{"name": "x", "price": 1}, nil)
	assert.Equal(t, apiclient.KindForbidden, apiclient.KindOf(err))
}

func TestCatalog_ListMerchants(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()
	for _, m := range []struct{ email, label, name string }{
		{"chef@example.com", "restaurant", "Chez Test"},
		{"shop@example.com", "supermarket", "Super Test"},
	} {
		owner := env.registered(t, m.email, m.label)
		require.NoError(t, owner.api.Post(ctx, "merchant/", map[string]string{"name": m.name, "address": "somewhere"}, nil))
	}

	cs := env.newClient(t)
	var list struct {
		Count   int               `json:"count"`
		Results []models.Merchant `json:"results"`
	}
	require.NoError(t, cs.api.Get(ctx, "merchants/", url.Values{"kind": {"supermarket"}}, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Super Test", list.Results[0].Name)
	assert.Equal(t, models.UserTypeSupermarket, list.Results[0].Kind)
}

func TestBootstrap_ResumesPersistedSession(t *testing.T) {
	env := newEnv(t, 0)
	ctx := context.Background()

	db, err := config.OpenDB(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	store, err := storage.NewSQLStore(db)
	require.NoError(t, err)

	open := func() (*session.Manager, *storage.Credentials) {
		creds := storage.NewCredentials(store)
		api, err := apiclient.New(apiclient.Config{BaseURL: env.srv.URL + "/api"}, creds)
		require.NoError(t, err)
		return session.NewManager(api, creds), creds
	}

	sess, _ := open()
	require.NoError(t, sess.Register(ctx, apiclient.RegisterRequest{
		Email: "shop@example.com", Password: "password123",
		FirstName: "S", LastName: "M", UserType: "supermarket",
	}))

	// a fresh process over the same store
	sess, creds := open()
	b := bootstrap.New(sess, creds, nil)
	defer b.Close()
	route, err := b.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, bootstrap.RouteSupermarket, route)

	require.NoError(t, sess.Logout(ctx))
	assert.Equal(t, bootstrap.RouteAuth, b.Route())
}

func TestAuthRoutes_RateLimited(t *testing.T) {
	env := newEnv(t, 2)
	body := []byte(`{"email":"nobody@example.com","password":"x"}`)

	var statuses []int
	for i := 0; i < 3; i++ {
		resp, err := http.Post(env.srv.URL+"/api/auth/login/", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, statuses)

	// catalog routes are not limited
	resp, err := http.Get(env.srv.URL + "/api/merchants/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionMachineInfo(t *testing.T) {
	env := newEnv(t, 0)
	cs := env.newClient(t)
	var info struct {
		StateMachine []map[string]string `json:"state_machine"`
	}
	require.NoError(t, cs.api.Get(context.Background(), "state-machine/", nil, &info))
	assert.NotEmpty(t, info.StateMachine)
	assert.Equal(t, "anonymous", info.StateMachine[0]["from"])
}
