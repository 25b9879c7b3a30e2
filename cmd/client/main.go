// Command client drives a food delivery session from the terminal. Credentials
// persist in a local sqlite file between invocations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"food-delivery-client/apiclient"
	"food-delivery-client/bootstrap"
	"food-delivery-client/config"
	"food-delivery-client/logging"
	"food-delivery-client/session"
	"food-delivery-client/storage"

	"github.com/sirupsen/logrus"
)

const usage = `usage: client <command> [flags]

commands:
  login      -email -password
  register   -email -password -first -last [-phone] [-type client|restaurant|supermarket|livreur]
  me         resume the stored session and print the profile
  logout
  status     print the stored session without calling the backend
  products   -merchant ID [-page N]
  prefs      [-dark true|false] [-lang CODE]
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", apiclient.Message(err, err.Error()))
		os.Exit(1)
	}
}

type app struct {
	cfg   config.Client
	log   logrus.FieldLogger
	creds *storage.Credentials
	api   *apiclient.Client
	sess  *session.Manager
	out   io.Writer
	close func() error
}

func open(cfg config.Client, out, logOut io.Writer) (*app, error) {
	log := logging.NewWithWriter(logOut, cfg.LogLevel, cfg.LogFormat)

	db, err := config.OpenDB(cfg.CredentialsDB)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLStore(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	creds := storage.NewCredentials(store)

	api, err := apiclient.New(apiclient.Config{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.APITimeout,
		Logger:        log,
		DedupeRefresh: cfg.RefreshDedupe,
	}, creds)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	sess := session.NewManager(api, creds, session.WithLogger(log))
	return &app{
		cfg:   cfg,
		log:   log,
		creds: creds,
		api:   api,
		sess:  sess,
		out:   out,
		close: func() error {
			sess.Close()
			return sqlDB.Close()
		},
	}, nil
}

func run(ctx context.Context, args []string, out, logOut io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	a, err := open(cfg, out, logOut)
	if err != nil {
		return err
	}
	defer a.close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "me":
		return a.me(ctx)
	case "logout":
		return a.logout(ctx)
	case "status":
		return a.status(ctx)
	case "products":
		return a.products(ctx, rest)
	case "prefs":
		return a.prefs(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := a.sess.Login(ctx, *email, *password); err != nil {
		return a.sessionError(err)
	}
	return a.printProfile()
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	req := apiclient.RegisterRequest{}
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "at least 8 characters")
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	fs.StringVar(&req.UserType, "type", "client", "client, restaurant, supermarket or livreur")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if err := a.sess.Register(ctx, req); err != nil {
		return a.sessionError(err)
	}
	return a.printProfile()
}

// me runs the same resume path as an app start.
func (a *app) me(ctx context.Context) error {
	boot := bootstrap.New(a.sess, a.creds, a.log)
	defer boot.Close()
	route, err := boot.Start(ctx)
	if err != nil {
		return err
	}
	if route == bootstrap.RouteAuth {
		if s := a.sess.Snapshot(); s.Error != nil {
			return errors.New(s.Error.Message)
		}
		return errors.New("not logged in")
	}
	return a.printProfile()
}

func (a *app) logout(ctx context.Context) error {
	if err := a.sess.Logout(ctx); err != nil {
		return err
	}
	return a.print(map[string]string{"status": "logged out"})
}

type statusView struct {
	Authenticated bool       `json:"authenticated"`
	Email         string     `json:"email,omitempty"`
	UserType      string     `json:"user_type,omitempty"`
	Route         string     `json:"route"`
	AccessExpires *time.Time `json:"access_expires,omitempty"`
	AccessExpired bool       `json:"access_expired,omitempty"`
	DarkMode      bool       `json:"dark_mode"`
	Language      string     `json:"language,omitempty"`
}

func (a *app) status(ctx context.Context) error {
	rec, err := a.creds.Load(ctx)
	if err != nil {
		return err
	}
	view := statusView{
		Authenticated: rec.AccessToken != "" && rec.User != nil,
		UserType:      rec.UserType,
	}
	view.Route = string(bootstrap.Resolve(session.State{User: rec.User, IsAuthenticated: view.Authenticated}))
	if rec.User != nil {
		view.Email = rec.User.Email
	}
	if rec.AccessToken != "" {
		if exp, err := apiclient.TokenExpiry(rec.AccessToken); err == nil {
			view.AccessExpires = &exp
			view.AccessExpired = time.Now().After(exp)
		}
	}
	if view.DarkMode, err = a.creds.DarkMode(ctx); err != nil {
		return err
	}
	if view.Language, err = a.creds.Language(ctx); err != nil {
		return err
	}
	return a.print(view)
}

func (a *app) products(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("products", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	merchant := fs.String("merchant", "", "restaurant or supermarket id")
	page := fs.Int("page", 0, "page number, 0 for the full list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *merchant == "" {
		return fmt.Errorf("%w: -merchant is required", errUsage)
	}
	var query url.Values
	if *page > 0 {
		query = url.Values{"page": {strconv.Itoa(*page)}}
	}
	products, err := a.api.ListProducts(ctx, *merchant, query)
	if err != nil {
		return err
	}
	return a.print(products)
}

func (a *app) prefs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prefs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dark := fs.String("dark", "", "true or false")
	lang := fs.String("lang", "", "interface language")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *dark != "" {
		on, err := strconv.ParseBool(*dark)
		if err != nil {
			return fmt.Errorf("%w: -dark: %v", errUsage, err)
		}
		if err := a.creds.SetDarkMode(ctx, on); err != nil {
			return err
		}
	}
	if *lang != "" {
		if err := a.creds.SetLanguage(ctx, *lang); err != nil {
			return err
		}
	}
	return a.status(ctx)
}

// sessionError prefers the message the session recorded for display.
func (a *app) sessionError(err error) error {
	if s := a.sess.Snapshot(); s.Error != nil && s.Error.Message != "" {
		return fmt.Errorf("%s: %w", s.Error.Message, err)
	}
	return err
}

func (a *app) printProfile() error {
	return a.print(a.sess.Snapshot().User)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
