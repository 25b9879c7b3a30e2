// Package bootstrap resumes a stored session at process start and maps the
// session state to the top-level route the UI should show.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"food-delivery-client/logging"
	"food-delivery-client/models"
	"food-delivery-client/session"
	"food-delivery-client/storage"

	"github.com/sirupsen/logrus"
)

// Route is a top-level navigation tree
type Route string

const (
	RouteLoading     Route = "loading"
	RouteAuth        Route = "auth"
	RouteCustomer    Route = "client"
	RouteRestaurant  Route = "restaurant"
	RouteSupermarket Route = "supermarket"
	RouteCourier     Route = "courier"
)

var routesByRole = map[models.Role]Route{
	models.RoleCustomer:    RouteCustomer,
	models.RoleRestaurant:  RouteRestaurant,
	models.RoleSupermarket: RouteSupermarket,
	models.RoleCourier:     RouteCourier,
}

// Resolve picks the route for a session state. Pending operations show the
// loading route; admins and unknown roles go back to the auth flow.
func Resolve(s session.State) Route {
	if s.IsLoading {
		return RouteLoading
	}
	if !s.IsAuthenticated || s.User == nil {
		return RouteAuth
	}
	role, ok := s.User.Role()
	if !ok {
		return RouteAuth
	}
	if r, ok := routesByRole[role]; ok {
		return r
	}
	return RouteAuth
}

// Session is what the bootstrapper needs from a session.Manager.
type Session interface {
	Snapshot() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
	FetchCurrentUser(ctx context.Context) error
}

type watcher struct {
	id int
	fn func(Route)
}

type Bootstrapper struct {
	sess  Session
	creds *storage.Credentials
	log   logrus.FieldLogger

	mu          sync.Mutex
	route       Route
	done        bool
	watchers    []watcher
	nextID      int
	unsubscribe func()
}

func New(sess Session, creds *storage.Credentials, log logrus.FieldLogger) *Bootstrapper {
	b := &Bootstrapper{
		sess:  sess,
		creds: creds,
		log:   logging.OrDiscard(log),
		route: RouteLoading,
	}
	b.unsubscribe = sess.Subscribe(b.onState)
	return b
}

// Start reads the stored token and, when present, re-validates it. The route
// stays RouteLoading until Start returns. A storage failure clears the
// credentials and lands on RouteAuth; the error is returned for logging.
func (b *Bootstrapper) Start(ctx context.Context) (Route, error) {
	token, err := b.creds.AccessToken(ctx)
	if err != nil {
		b.log.WithError(err).Error("failed to restore token")
		if clearErr := b.creds.ClearAll(ctx); clearErr != nil {
			b.log.WithError(clearErr).Error("failed to clear credentials")
		}
		b.settle(RouteAuth)
		return RouteAuth, fmt.Errorf("restore token: %w", err)
	}

	if token != "" {
		if err := b.sess.FetchCurrentUser(ctx); err != nil {
			b.log.WithError(err).Info("stored session not resumed")
		}
	}

	route := Resolve(b.sess.Snapshot())
	b.settle(route)
	b.log.WithField("route", route).Debug("bootstrap complete")
	return route, nil
}

// Route is the current route; RouteLoading before Start completes.
func (b *Bootstrapper) Route() Route {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.route
}

// Watch calls fn whenever the route changes after bootstrap, including the
// initial decision made by Start.
func (b *Bootstrapper) Watch(fn func(Route)) (stop func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.watchers = append(b.watchers, watcher{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, w := range b.watchers {
			if w.id == id {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				return
			}
		}
	}
}

// Close stops following the session.
func (b *Bootstrapper) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

func (b *Bootstrapper) onState(s session.State) {
	b.mu.Lock()
	if !b.done {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.set(Resolve(s))
}

func (b *Bootstrapper) settle(route Route) {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	b.set(route)
}

func (b *Bootstrapper) set(route Route) {
	b.mu.Lock()
	if route == b.route {
		b.mu.Unlock()
		return
	}
	b.route = route
	ws := append([]watcher(nil), b.watchers...)
	b.mu.Unlock()
	for _, w := range ws {
		w.fn(route)
	}
}
