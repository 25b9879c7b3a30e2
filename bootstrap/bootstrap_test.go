package bootstrap

import (
	"context"
	"errors"
	"testing"

	"food-delivery-client/apiclient"
	"food-delivery-client/models"
	"food-delivery-client/session"
	"food-delivery-client/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthAPI only answers the calls bootstrap can trigger.
type fakeAuthAPI struct {
	me      func() (*models.UserProfile, error)
	meCalls int
}

func (f *fakeAuthAPI) Login(context.Context, apiclient.LoginRequest) (*models.AuthResponse, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeAuthAPI) Register(context.Context, apiclient.RegisterRequest) (*models.AuthResponse, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeAuthAPI) CurrentUser(context.Context) (*models.UserProfile, error) {
	f.meCalls++
	return f.me()
}

func (f *fakeAuthAPI) UpdateProfile(context.Context, models.ProfileUpdate) (*models.UserProfile, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeAuthAPI) Logout(context.Context, string) error { return nil }

func (f *fakeAuthAPI) ChangePassword(context.Context, apiclient.ChangePasswordRequest) error {
	return errors.New("not scripted")
}

func (f *fakeAuthAPI) RequestPasswordReset(context.Context, string) error {
	return errors.New("not scripted")
}

func (f *fakeAuthAPI) ConfirmPasswordReset(context.Context, apiclient.ConfirmResetRequest) error {
	return errors.New("not scripted")
}

// failingStore fails every read and records clears.
type failingStore struct {
	*storage.MemoryStore
	cleared []string
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("keychain locked")
}

func (s *failingStore) Clear(ctx context.Context, keys ...string) error {
	s.cleared = append(s.cleared, keys...)
	return s.MemoryStore.Clear(ctx, keys...)
}

func profile(userType string) *models.UserProfile {
	return &models.UserProfile{ID: "1", Email: "a@b.com", UserType: userType}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		state session.State
		want  Route
	}{
		{"loading", session.State{IsLoading: true}, RouteLoading},
		{"anonymous", session.State{}, RouteAuth},
		{"customer", session.State{IsAuthenticated: true, User: profile("CLIENT")}, RouteCustomer},
		{"courier", session.State{IsAuthenticated: true, User: profile("LIVREUR")}, RouteCourier},
		{"restaurant", session.State{IsAuthenticated: true, User: profile("RESTAURANT")}, RouteRestaurant},
		{"supermarket", session.State{IsAuthenticated: true, User: profile("SUPERMARCHE")}, RouteSupermarket},
		{"admin", session.State{IsAuthenticated: true, User: profile("ADMIN")}, RouteAuth},
		{"unknown role", session.State{IsAuthenticated: true, User: profile("PHARMACY")}, RouteAuth},
		{"missing role", session.State{IsAuthenticated: true, User: profile("")}, RouteAuth},
		{"authenticated without user", session.State{IsAuthenticated: true}, RouteAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.state))
		})
	}
}

func TestStart_NoTokenGoesToAuth(t *testing.T) {
	api := &fakeAuthAPI{}
	creds := storage.NewCredentials(storage.NewMemoryStore())
	b := New(session.NewManager(api, creds), creds, nil)
	assert.Equal(t, RouteLoading, b.Route())

	route, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RouteAuth, route)
	assert.Equal(t, RouteAuth, b.Route())
	assert.Equal(t, 0, api.meCalls)
}

func TestStart_ResumesSession(t *testing.T) {
	creds := storage.NewCredentials(storage.NewMemoryStore())
	require.NoError(t, creds.Save(context.Background(), storage.Record{AccessToken: "t1", RefreshToken: "r1", UserType: "SUPERMARCHE"}))

	var b *Bootstrapper
	api := &fakeAuthAPI{me: func() (*models.UserProfile, error) {
		assert.Equal(t, RouteLoading, b.Route())
		return profile("SUPERMARCHE"), nil
	}}
	b = New(session.NewManager(api, creds), creds, nil)

	route, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RouteSupermarket, route)
	assert.Equal(t, 1, api.meCalls)
}

func TestStart_AccountGoneGoesToAuth(t *testing.T) {
	store := storage.NewMemoryStore()
	creds := storage.NewCredentials(store)
	require.NoError(t, creds.Save(context.Background(), storage.Record{AccessToken: "t1", RefreshToken: "r1"}))
	api := &fakeAuthAPI{me: func() (*models.UserProfile, error) {
		return nil, &apiclient.Error{Kind: apiclient.KindAccountGone, Status: 401, Err: apiclient.ErrAccountGone}
	}}
	b := New(session.NewManager(api, creds), creds, nil)

	route, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RouteAuth, route)
	assert.Equal(t, 0, store.Len())
}

func TestStart_StorageFailureClearsAndGoesToAuth(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	creds := storage.NewCredentials(store)
	api := &fakeAuthAPI{}
	b := New(session.NewManager(api, creds), creds, nil)

	route, err := b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, RouteAuth, route)
	assert.Equal(t, storage.CredentialKeys(), store.cleared)
	assert.Equal(t, 0, api.meCalls)
}

func TestWatch_ForcedLogoutReroutes(t *testing.T) {
	creds := storage.NewCredentials(storage.NewMemoryStore())
	require.NoError(t, creds.Save(context.Background(), storage.Record{AccessToken: "t1", RefreshToken: "r1", UserType: "CLIENT"}))
	api := &fakeAuthAPI{me: func() (*models.UserProfile, error) { return profile("CLIENT"), nil }}
	m := session.NewManager(api, creds)
	b := New(m, creds, nil)
	defer b.Close()

	var routes []Route
	stop := b.Watch(func(r Route) { routes = append(routes, r) })

	_, err := b.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Route{RouteCustomer}, routes)

	api.me = func() (*models.UserProfile, error) {
		return nil, errors.New("profile lookup: ACCOUNT_GONE")
	}
	require.Error(t, m.FetchCurrentUser(context.Background()))
	require.NotEmpty(t, routes)
	assert.Equal(t, RouteAuth, routes[len(routes)-1])
	assert.Equal(t, RouteAuth, b.Route())

	stop()
	n := len(routes)
	api.me = func() (*models.UserProfile, error) { return profile("CLIENT"), nil }
	require.NoError(t, m.FetchCurrentUser(context.Background()))
	assert.Len(t, routes, n)
	assert.Equal(t, RouteCustomer, b.Route())
}
