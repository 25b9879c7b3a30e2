package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"food-delivery-client/models"

	"github.com/tidwall/gjson"
)

// Auth endpoints, relative to the base URL.
const (
	PathLogin           = "auth/login/"
	PathRegister        = "auth/register/"
	PathRefresh         = "auth/refresh/"
	PathMe              = "auth/me/"
	PathLogout          = "auth/logout/"
	PathChangePassword  = "auth/password/"
	PathPasswordReset   = "auth/password-reset/"
	PathPasswordConfirm = "auth/password-confirm/"
)

// AuthAPI is the slice of the backend the session layer depends on.
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (*models.AuthResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*models.AuthResponse, error)
	CurrentUser(ctx context.Context) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.UserProfile, error)
	Logout(ctx context.Context, refresh string) error
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, req ConfirmResetRequest) error
}

var _ AuthAPI = (*Client)(nil)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest takes the UI label in UserType (client, restaurant,
// supermarket, livreur); Register translates it to the backend code.
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"omitempty,eqfield=Password"`
	Phone           string `json:"phone,omitempty"`
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	UserType        string `json:"user_type" validate:"required,oneof=client restaurant supermarket livreur"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,nefield=OldPassword"`
}

type ConfirmResetRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.AuthResponse, error) {
	var out models.AuthResponse
	if err := c.Post(ctx, PathLogin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.AuthResponse, error) {
	req.UserType = models.BackendUserType(req.UserType)
	var out models.AuthResponse
	if err := c.Post(ctx, PathRegister, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUser fetches auth/me/. Both a bare profile and one wrapped in a
// "user" object are accepted.
func (c *Client) CurrentUser(ctx context.Context) (*models.UserProfile, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: PathMe})
	if err != nil {
		return nil, err
	}
	return decodeProfile(resp)
}

func (c *Client) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.UserProfile, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodPut, Path: PathMe, Body: upd})
	if err != nil {
		return nil, err
	}
	return decodeProfile(resp)
}

// Logout tells the backend to revoke refresh. An empty token skips the call.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}
	return c.Post(ctx, PathLogout, map[string]string{"refresh": refresh}, nil)
}

func (c *Client) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	return c.Post(ctx, PathChangePassword, req, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.Post(ctx, PathPasswordReset, map[string]string{"email": email}, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, req ConfirmResetRequest) error {
	return c.Post(ctx, PathPasswordConfirm, req, nil)
}

func decodeProfile(resp *Response) (*models.UserProfile, error) {
	body := resp.Body
	if nested := gjson.GetBytes(body, "user"); nested.IsObject() && !gjson.GetBytes(body, "id").Exists() {
		body = []byte(nested.Raw)
	}
	var u models.UserProfile
	if err := (&Response{Body: body}).Decode(&u); err != nil {
		return nil, err
	}
	if u.ID == "" && u.Email == "" {
		return nil, fmt.Errorf("decode profile: empty body from %s", PathMe)
	}
	return &u, nil
}
