// Package session owns the authentication state of the client.
//
// A Manager is the single writer of State. Operations resolve through the
// phase table in package statemachine; readers get copies via Snapshot or a
// Subscribe callback. Every logout or forced logout starts a new session
// generation; results of operations begun in an older generation are dropped
// without touching the state or the credential store.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"food-delivery-client/apiclient"
	"food-delivery-client/logging"
	"food-delivery-client/metrics"
	"food-delivery-client/models"
	"food-delivery-client/statemachine"
	"food-delivery-client/storage"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidInput     = errors.New("session: invalid input")
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrRoleChanged      = errors.New("session: account role changed")
)

// ErrorInfo is the displayable form of a failed operation.
type ErrorInfo struct {
	Message string
	Kind    apiclient.Kind
	Fields  map[string][]string
}

// State is an immutable snapshot. IsAuthenticated implies User != nil.
type State struct {
	User            *models.UserProfile
	IsAuthenticated bool
	IsLoading       bool
	Error           *ErrorInfo
}

func (s State) clone() State {
	out := s
	out.User = s.User.Clone()
	if s.Error != nil {
		e := *s.Error
		if s.Error.Fields != nil {
			e.Fields = make(map[string][]string, len(s.Error.Fields))
			for k, v := range s.Error.Fields {
				e.Fields[k] = append([]string(nil), v...)
			}
		}
		out.Error = &e
	}
	return out
}

type listener struct {
	id int
	fn func(State)
}

type Manager struct {
	api      apiclient.AuthAPI
	creds    *storage.Credentials
	validate *validator.Validate
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	state     State
	phase     statemachine.Phase
	gen       uint64
	pending   int
	listeners []listener
	nextID    int

	// storeMu orders credential writes of operations against session ends.
	storeMu sync.Mutex
	detach  func()
}

type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = logging.OrDiscard(l) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager starts in the anonymous phase. Call FetchCurrentUser (or use a
// bootstrap.Bootstrapper) to resume a stored session. When api is an
// apiclient.SessionNotifier the Manager follows credential clears made by any
// call through it, not only its own operations.
func NewManager(api apiclient.AuthAPI, creds *storage.Credentials, opts ...Option) *Manager {
	m := &Manager{
		api:      api,
		creds:    creds,
		validate: newValidator(),
		log:      logging.Discard(),
		phase:    statemachine.PhaseAnonymous,
	}
	for _, opt := range opts {
		opt(m)
	}
	if n, ok := api.(apiclient.SessionNotifier); ok {
		m.detach = n.OnSessionEnded(m.transportEnded)
	}
	return m
}

// Close stops following the transport.
func (m *Manager) Close() {
	if m.detach != nil {
		m.detach()
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Phase returns the current phase of the session machine.
func (m *Manager) Phase() statemachine.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Subscribe registers fn to receive every new state. fn runs on the goroutine
// that caused the change and must not call back into the Manager's
// mutating operations synchronously.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Login authenticates with email and password and persists the credentials.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	req := apiclient.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := m.check(req); err != nil {
		return err
	}

	gen := m.begin(true)
	resp, err := m.api.Login(ctx, req)
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventLogin, err, "Login failed")
	}
	return m.establish(ctx, gen, statemachine.EventLogin, resp)
}

// Register creates an account. UserType is the UI label (client, restaurant,
// supermarket, livreur).
func (m *Manager) Register(ctx context.Context, req apiclient.RegisterRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	req.UserType = strings.ToLower(strings.TrimSpace(req.UserType))
	if err := m.check(req); err != nil {
		return err
	}

	gen := m.begin(true)
	resp, err := m.api.Register(ctx, req)
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventRegister, err, "Registration failed")
	}
	return m.establish(ctx, gen, statemachine.EventRegister, resp)
}

func (m *Manager) establish(ctx context.Context, gen uint64, event statemachine.Event, resp *models.AuthResponse) error {
	user := resp.User.Clone()
	current, err := m.commit(gen, func() error {
		return m.creds.Save(ctx, storage.Record{
			AccessToken:  resp.Access,
			RefreshToken: resp.Refresh,
			User:         user,
			UserType:     user.UserType,
		})
	})
	if err != nil {
		return m.fail(ctx, gen, event, fmt.Errorf("persist credentials: %w", err), "Could not save session")
	}
	if !current {
		return m.drop(event)
	}
	m.log.WithFields(logrus.Fields{"event": event, "user_id": user.ID, "user_type": user.UserType}).Info("session established")
	m.finish(gen, event, statemachine.Fulfilled, func(s *State) {
		s.User = user
		s.Error = nil
	})
	return nil
}

// FetchCurrentUser re-validates the stored token by loading the profile.
func (m *Manager) FetchCurrentUser(ctx context.Context) error {
	gen := m.begin(false)
	user, err := m.api.CurrentUser(ctx)
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventFetchUser, err, "Failed to fetch user")
	}

	known, err := m.knownUserType(ctx)
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventFetchUser, err, "Failed to fetch user")
	}
	if known != "" && !sameRole(known, user.UserType) {
		m.log.WithFields(logrus.Fields{"was": known, "now": user.UserType}).Warn("role changed under an open session")
		return m.endSession(ctx, gen, metrics.ReasonRoleChanged, ErrRoleChanged)
	}

	current, err := m.commit(gen, func() error { return m.persistUser(ctx, user) })
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventFetchUser, err, "Failed to fetch user")
	}
	if !current {
		return m.drop(statemachine.EventFetchUser)
	}
	m.finish(gen, statemachine.EventFetchUser, statemachine.Fulfilled, func(s *State) {
		s.User = user
		s.Error = nil
	})
	return nil
}

// knownUserType is the role the session was opened with: the in-memory user
// when present, otherwise the persisted user_type.
func (m *Manager) knownUserType(ctx context.Context) (string, error) {
	m.mu.Lock()
	u := m.state.User
	m.mu.Unlock()
	if u != nil && u.UserType != "" {
		return u.UserType, nil
	}
	known, err := m.creds.UserType(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", storage.KeyUserType, err)
	}
	return known, nil
}

func sameRole(a, b string) bool {
	ra, okA := models.ParseRole(a)
	rb, okB := models.ParseRole(b)
	if okA && okB {
		return ra == rb
	}
	return strings.EqualFold(a, b)
}

func (m *Manager) persistUser(ctx context.Context, user *models.UserProfile) error {
	if err := m.creds.SetUser(ctx, user); err != nil {
		return fmt.Errorf("persist profile: %w", err)
	}
	if err := m.creds.SetUserType(ctx, user.UserType); err != nil {
		return fmt.Errorf("persist user type: %w", err)
	}
	return nil
}

// Logout revokes the refresh token on a best-effort basis, then clears the
// credential store and resets the session. Calling it twice is harmless.
func (m *Manager) Logout(ctx context.Context) error {
	m.begin(false)

	refresh, err := m.creds.RefreshToken(ctx)
	if err != nil {
		m.log.WithError(err).Warn("logout: could not read refresh token")
	}
	if refresh != "" {
		if err := m.api.Logout(ctx, refresh); err != nil {
			m.log.WithError(err).Debug("logout call failed, clearing locally")
		}
	}

	gen, clearErr := m.clear(ctx)
	m.finish(gen, statemachine.EventLogout, statemachine.Fulfilled, reset)
	if clearErr != nil {
		return fmt.Errorf("clear credentials: %w", clearErr)
	}
	return nil
}

// UpdateProfile saves profile edits. The role the session was opened with is
// kept whatever the backend echoes.
func (m *Manager) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) error {
	if err := m.check(upd); err != nil {
		return err
	}
	if !statemachine.Allows(m.Phase(), statemachine.EventUpdateProfile) {
		return ErrNotAuthenticated
	}

	gen := m.begin(false)
	user, err := m.api.UpdateProfile(ctx, upd)
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventUpdateProfile, err, "Failed to update profile")
	}

	m.mu.Lock()
	if cur := m.state.User; cur != nil && cur.UserType != "" {
		user.UserType = cur.UserType
	}
	m.mu.Unlock()

	current, err := m.commit(gen, func() error { return m.creds.SetUser(ctx, user) })
	if err != nil {
		return m.fail(ctx, gen, statemachine.EventUpdateProfile, fmt.Errorf("persist profile: %w", err), "Failed to update profile")
	}
	if !current {
		return m.drop(statemachine.EventUpdateProfile)
	}
	m.finish(gen, statemachine.EventUpdateProfile, statemachine.Fulfilled, func(s *State) {
		s.User = user
	})
	return nil
}

// ChangePassword changes the password of the signed-in account.
func (m *Manager) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	req := apiclient.ChangePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}
	if err := m.check(req); err != nil {
		return err
	}
	if m.Phase() != statemachine.PhaseAuthenticated {
		return ErrNotAuthenticated
	}
	return m.call(ctx, "Failed to change password", func() error {
		return m.api.ChangePassword(ctx, req)
	})
}

// RequestPasswordReset asks the backend to send a reset token to email.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := m.check(struct {
		Email string `json:"email" validate:"required,email"`
	}{email}); err != nil {
		return err
	}
	return m.call(ctx, "Failed to request password reset", func() error {
		return m.api.RequestPasswordReset(ctx, email)
	})
}

// ConfirmPasswordReset sets a new password using a reset token.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, token, password, confirm string) error {
	req := apiclient.ConfirmResetRequest{Token: token, NewPassword: password, ConfirmPassword: confirm}
	if err := m.check(req); err != nil {
		return err
	}
	return m.call(ctx, "Failed to reset password", func() error {
		return m.api.ConfirmPasswordReset(ctx, req)
	})
}

// call runs an operation that does not move the session between phases.
func (m *Manager) call(ctx context.Context, fallback string, fn func() error) error {
	gen := m.begin(true)
	if err := fn(); err != nil {
		return m.fail(ctx, gen, "", err, fallback)
	}
	m.settle(gen, func(*State) {})
	return nil
}

// ClearError drops the last error without touching anything else.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.state.Error = nil
	snap, ls := m.state.clone(), m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, snap)
}

// begin opens one pending operation and returns the generation it belongs to.
func (m *Manager) begin(clearError bool) uint64 {
	m.mu.Lock()
	m.pending++
	m.state.IsLoading = true
	if clearError {
		m.state.Error = nil
	}
	gen := m.gen
	snap, ls := m.state.clone(), m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, snap)
	return gen
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// commit runs write only while gen is still the live generation. current is
// false when the session ended first; write is skipped then.
func (m *Manager) commit(gen uint64, write func() error) (current bool, err error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if !m.current(gen) {
		return false, nil
	}
	return true, write()
}

// clear empties the credential store and opens a new generation.
func (m *Manager) clear(ctx context.Context) (uint64, error) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	err := m.creds.ClearAll(ctx)
	return m.nextGen(), err
}

func (m *Manager) nextGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.gen
}

// drop resolves an operation whose generation ended while it was in flight.
func (m *Manager) drop(event statemachine.Event) error {
	m.log.WithField("event", event).Debug("dropping result of an ended session")
	m.resolve(0, event, "", nil, true)
	return ErrNotAuthenticated
}

// settle resolves one pending operation without a phase change. apply is
// skipped when gen is no longer live.
func (m *Manager) settle(gen uint64, apply func(*State)) {
	m.resolve(gen, "", "", apply, true)
}

// finish resolves one pending operation through the phase table.
func (m *Manager) finish(gen uint64, event statemachine.Event, outcome statemachine.Outcome, apply func(*State)) {
	m.resolve(gen, event, outcome, apply, true)
}

// resolve is the single state writer. apply runs only for the live
// generation and, with an event, only when the table has a transition for
// the current phase. done releases one pending operation.
func (m *Manager) resolve(gen uint64, event statemachine.Event, outcome statemachine.Outcome, apply func(*State), done bool) {
	m.mu.Lock()
	if done && m.pending > 0 {
		m.pending--
	}
	switch {
	case apply == nil:
	case gen != m.gen:
		m.log.WithField("event", event).Debug("dropping result of an ended session")
	case event == "":
		apply(&m.state)
	default:
		next, err := statemachine.Next(m.phase, event, outcome)
		if err != nil {
			m.log.WithField("event", event).Debug("dropping stale result: ", err)
			break
		}
		m.phase = next
		apply(&m.state)
		m.state.IsAuthenticated = next == statemachine.PhaseAuthenticated && m.state.User != nil
		if !m.state.IsAuthenticated {
			m.phase = statemachine.PhaseAnonymous
		}
	}
	m.state.IsLoading = m.pending > 0
	snap, ls := m.state.clone(), m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, snap)
}

// fail resolves a rejected operation. Account-gone and refresh failures end
// the session; everything else is recorded as a displayable error.
func (m *Manager) fail(ctx context.Context, gen uint64, event statemachine.Event, err error, fallback string) error {
	switch {
	case apiclient.IsAccountGone(err):
		return m.endSession(ctx, gen, metrics.ReasonAccountGone, err)
	case errors.Is(err, apiclient.ErrRefreshFailed):
		return m.endSession(ctx, gen, metrics.ReasonRefreshFailed, err)
	}

	info := &ErrorInfo{
		Message: apiclient.Message(err, fallback),
		Kind:    apiclient.KindOf(err),
		Fields:  apiclient.FieldErrors(err),
	}
	m.log.WithError(err).WithField("event", event).Info("session operation failed")
	if event == "" {
		m.settle(gen, func(s *State) { s.Error = info })
		return err
	}
	m.finish(gen, event, statemachine.Rejected, func(s *State) {
		s.Error = info
		if event == statemachine.EventFetchUser {
			s.User = nil
		}
	})
	return err
}

// endSession is the forced logout path. The state is reset silently; the
// cause is returned to the caller only. When gen already ended (the transport
// reported the same failure first) only the pending operation is released.
func (m *Manager) endSession(ctx context.Context, gen uint64, reason string, cause error) error {
	if !m.current(gen) {
		m.settle(gen, nil)
		return cause
	}
	m.metrics.ObserveForcedLogout(reason)
	m.log.WithField("reason", reason).Warn("session ended")
	next, clearErr := m.clear(ctx)
	m.finish(next, statemachine.EventSessionEnded, statemachine.Fulfilled, reset)
	if clearErr != nil {
		return errors.Join(cause, fmt.Errorf("clear credentials: %w", clearErr))
	}
	return cause
}

// transportEnded follows a credential clear made by the transport on any
// call. The store is already empty.
func (m *Manager) transportEnded(reason string, cause error) {
	m.storeMu.Lock()
	gen := m.nextGen()
	m.storeMu.Unlock()
	m.metrics.ObserveForcedLogout(reason)
	m.log.WithError(cause).WithField("reason", reason).Warn("session ended")
	m.resolve(gen, statemachine.EventSessionEnded, statemachine.Fulfilled, reset, false)
}

func reset(s *State) {
	s.User = nil
	s.Error = nil
}

// check validates input and records a rejected state without any call.
func (m *Manager) check(v any) error {
	err := m.validate.Struct(v)
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Kind: apiclient.KindValidation, Fields: map[string][]string{}}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			msg := fieldMessage(fe)
			info.Fields[fe.Field()] = append(info.Fields[fe.Field()], msg)
			if info.Message == "" {
				info.Message = msg
			}
		}
	}
	if info.Message == "" {
		info.Message = err.Error()
	}

	m.mu.Lock()
	m.state.Error = info
	snap, ls := m.state.clone(), m.snapshotListeners()
	m.mu.Unlock()
	notify(ls, snap)
	return fmt.Errorf("%w: %s", ErrInvalidInput, info.Message)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "eqfield":
		return fe.Field() + " does not match"
	case "nefield":
		return fe.Field() + " must differ from the current one"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

func (m *Manager) snapshotListeners() []listener {
	return append([]listener(nil), m.listeners...)
}

func notify(ls []listener, s State) {
	for _, l := range ls {
		l.fn(s.clone())
	}
}
