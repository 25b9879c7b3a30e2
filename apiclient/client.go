// Package apiclient is the authenticated transport to the delivery backend.
//
// Every call carries the stored access token. A 401 is classified before
// anything else: an account-gone body clears the credential store and fails
// with ErrAccountGone; an ordinary 401 triggers exactly one refresh and one
// retry of the original request; a refresh failure clears the store and fails
// with ErrRefreshFailed. Hooks registered with OnSessionEnded run after each
// such clear. Other statuses pass through untouched.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"food-delivery-client/logging"
	"food-delivery-client/metrics"
	"food-delivery-client/models"
	"food-delivery-client/storage"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	Metrics    *metrics.Metrics
	// DedupeRefresh shares one in-flight refresh call between concurrent
	// requests that hit 401 with the same refresh token.
	DedupeRefresh bool
	// OnSessionEnded runs after the transport cleared the credential store.
	// reason is metrics.ReasonAccountGone or metrics.ReasonRefreshFailed.
	OnSessionEnded func(reason string, err error)
}

// SessionNotifier is implemented by transports that end sessions on their
// own. The returned func removes the hook.
type SessionNotifier interface {
	OnSessionEnded(fn func(reason string, err error)) (remove func())
}

var _ SessionNotifier = (*Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	creds     *storage.Credentials
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	refreshes *singleflight.Group

	hookMu sync.Mutex
	hooks  []sessionHook
	nextID int
}

type sessionHook struct {
	id int
	fn func(reason string, err error)
}

func New(cfg Config, creds *storage.Credentials) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("apiclient: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("apiclient: base URL: %w", err)
	}
	if creds == nil {
		return nil, errors.New("apiclient: credentials are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    httpClient,
		creds:   creds,
		log:     logging.OrDiscard(cfg.Logger),
		metrics: cfg.Metrics,
	}
	if cfg.DedupeRefresh {
		c.refreshes = &singleflight.Group{}
	}
	if cfg.OnSessionEnded != nil {
		c.OnSessionEnded(cfg.OnSessionEnded)
	}
	return c, nil
}

// OnSessionEnded registers fn to run whenever a call clears the credential
// store because the account is gone or the refresh token was refused.
func (c *Client) OnSessionEnded(fn func(reason string, err error)) (remove func()) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.nextID++
	id := c.nextID
	c.hooks = append(c.hooks, sessionHook{id: id, fn: fn})
	return func() {
		c.hookMu.Lock()
		defer c.hookMu.Unlock()
		for i, h := range c.hooks {
			if h.id == id {
				c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
				return
			}
		}
	}
}

func (c *Client) sessionEnded(reason string, err error) {
	c.hookMu.Lock()
	hooks := append([]sessionHook(nil), c.hooks...)
	c.hookMu.Unlock()
	for _, h := range hooks {
		h.fn(reason, err)
	}
}

// Request describes one call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a fully read response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Decode(v any) error {
	if v == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// call is a prepared request. The encoded body is kept so the request can be
// sent a second time after a refresh.
type call struct {
	method string
	path   string
	url    string
	body   []byte
}

func (c *Client) prepare(req Request) (*call, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	cl := &call{method: method, path: req.Path, url: u}
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, req.Path, err)
		}
		cl.body = data
	}
	return cl, nil
}

// Do sends req with the current access token and resolves authorization
// failures as described in the package documentation.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	cl, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	return c.do(ctx, cl, token, false)
}

// do sends cl once. retried is the per-request marker: once set, a 401 is
// returned as is and no further refresh happens.
func (c *Client) do(ctx context.Context, cl *call, token string, retried bool) (*Response, error) {
	resp, err := c.send(ctx, cl, token)
	if err != nil {
		return nil, err
	}
	if resp.Status < http.StatusBadRequest {
		return resp, nil
	}

	apiErr := &Error{
		Kind:   kindForStatus(resp.Status),
		Status: resp.Status,
		Method: cl.method,
		Path:   cl.path,
		Body:   resp.Body,
	}
	if resp.Status != http.StatusUnauthorized {
		return nil, apiErr
	}

	if IsAccountGoneBody(resp.Body) {
		apiErr.Kind = KindAccountGone
		apiErr.Err = ErrAccountGone
		c.log.WithFields(logrus.Fields{"method": cl.method, "path": cl.path}).
			Warn("account no longer exists, clearing credentials")
		clearErr := c.creds.ClearAll(ctx)
		c.sessionEnded(metrics.ReasonAccountGone, apiErr)
		if clearErr != nil {
			return nil, errors.Join(apiErr, fmt.Errorf("clear credentials: %w", clearErr))
		}
		return nil, apiErr
	}

	apiErr.Err = ErrUnauthorized
	if retried {
		return nil, apiErr
	}

	refresh, err := c.creds.RefreshToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("read refresh token: %w", err)
	}
	if refresh == "" {
		c.metrics.ObserveRefresh(metrics.RefreshSkipped)
		return nil, apiErr
	}

	access, err := c.refreshAccess(ctx, refresh)
	if err != nil {
		if errors.Is(err, ErrRefreshFailed) {
			c.metrics.ObserveRefresh(metrics.RefreshFailed)
			c.log.WithError(err).Warn("token refresh failed, clearing credentials")
			clearErr := c.creds.ClearAll(ctx)
			c.sessionEnded(metrics.ReasonRefreshFailed, err)
			if clearErr != nil {
				return nil, errors.Join(err, fmt.Errorf("clear credentials: %w", clearErr))
			}
		}
		return nil, err
	}
	c.metrics.ObserveRefresh(metrics.RefreshSucceeded)
	c.log.WithField("path", cl.path).Info("access token refreshed, retrying request")

	return c.do(ctx, cl, access, true)
}

func (c *Client) refreshAccess(ctx context.Context, refresh string) (string, error) {
	if c.refreshes == nil {
		return c.exchange(ctx, refresh)
	}
	v, err, _ := c.refreshes.Do(refresh, func() (any, error) {
		return c.exchange(ctx, refresh)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// exchange trades the refresh token for a new access token. It goes straight
// to send so it never attaches a token or refreshes recursively.
func (c *Client) exchange(ctx context.Context, refresh string) (string, error) {
	cl, err := c.prepare(Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   map[string]string{"refresh": refresh},
	})
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, cl, "")
	if err != nil {
		return "", &Error{Kind: KindRefreshFailed, Method: cl.method, Path: cl.path, Err: err}
	}
	if resp.Status >= http.StatusMultipleChoices {
		return "", &Error{
			Kind:   KindRefreshFailed,
			Status: resp.Status,
			Method: cl.method,
			Path:   cl.path,
			Body:   resp.Body,
			Err:    ErrRefreshFailed,
		}
	}

	var out models.RefreshResponse
	if err := resp.Decode(&out); err != nil || out.Access == "" {
		if err == nil {
			err = errors.New("response has no access token")
		}
		return "", &Error{
			Kind:   KindRefreshFailed,
			Status: resp.Status,
			Method: cl.method,
			Path:   cl.path,
			Err:    fmt.Errorf("%w: %v", ErrRefreshFailed, err),
		}
	}

	if err := c.creds.SetAccessToken(ctx, out.Access); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	if out.Refresh != "" {
		if err := c.creds.SetRefreshToken(ctx, out.Refresh); err != nil {
			return "", fmt.Errorf("store refresh token: %w", err)
		}
	}
	return out.Access, nil
}

func (c *Client) send(ctx context.Context, cl *call, token string) (*Response, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(cl.method, 0)
		c.log.WithError(err).WithField("path", cl.path).Debug("request failed")
		return nil, &Error{Kind: KindNetwork, Method: cl.method, Path: cl.path, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObserveRequest(cl.method, 0)
		return nil, &Error{Kind: KindNetwork, Method: cl.method, Path: cl.path, Err: err}
	}
	c.metrics.ObserveRequest(cl.method, res.StatusCode)
	c.log.WithFields(logrus.Fields{
		"method":   cl.method,
		"path":     cl.path,
		"status":   res.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("request")

	return &Response{Status: res.StatusCode, Header: res.Header, Body: data}, nil
}

// Get, Post, Put and Delete decode a successful JSON body into out (which may
// be nil).

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.roundTrip(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.roundTrip(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.roundTrip(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.roundTrip(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}

func (c *Client) roundTrip(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
