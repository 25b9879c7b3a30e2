package models

import (
	"encoding/json"
	"strings"
)

// Role is the client-side role a session is routed by
type Role string

const (
	RoleCustomer    Role = "customer"
	RoleRestaurant  Role = "restaurant"
	RoleSupermarket Role = "supermarket"
	RoleCourier     Role = "courier"
	RoleAdmin       Role = "admin"
)

// Backend user_type codes
const (
	UserTypeClient      = "CLIENT"
	UserTypeRestaurant  = "RESTAURANT"
	UserTypeSupermarket = "SUPERMARCHE"
	UserTypeCourier     = "LIVREUR"
	UserTypeAdmin       = "ADMIN"
)

// registration labels shown in the UI -> backend codes
var userTypeLabels = map[string]string{
	"client":      UserTypeClient,
	"restaurant":  UserTypeRestaurant,
	"supermarket": UserTypeSupermarket,
	"livreur":     UserTypeCourier,
}

var rolesByCode = map[string]Role{
	UserTypeClient:      RoleCustomer,
	UserTypeRestaurant:  RoleRestaurant,
	UserTypeSupermarket: RoleSupermarket,
	UserTypeCourier:     RoleCourier,
	UserTypeAdmin:       RoleAdmin,
}

// BackendUserType translates a registration label into the code the backend
// expects. Unknown labels are sent upper-cased.
func BackendUserType(label string) string {
	label = strings.TrimSpace(label)
	if code, ok := userTypeLabels[strings.ToLower(label)]; ok {
		return code
	}
	return strings.ToUpper(label)
}

// ParseRole maps a backend user_type code (or a role name) to a Role.
func ParseRole(code string) (Role, bool) {
	code = strings.TrimSpace(code)
	if r, ok := rolesByCode[strings.ToUpper(code)]; ok {
		return r, true
	}
	switch r := Role(strings.ToLower(code)); r {
	case RoleCustomer, RoleRestaurant, RoleSupermarket, RoleCourier, RoleAdmin:
		return r, true
	}
	return "", false
}

// UserProfile is the authenticated user as returned by auth/me/.
type UserProfile struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	UserType           string `json:"user_type"`
	ApprovalStatus     string `json:"approval_status,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
	IsApproved         *bool  `json:"is_approved,omitempty"`
	IsVerified         *bool  `json:"is_verified,omitempty"`
	PhotoURL           string `json:"photo_profil,omitempty"`
	RestaurantID       string `json:"restaurant_id,omitempty"`
	SupermarketID      string `json:"supermarket_id,omitempty"`
}

// UnmarshalJSON accepts numeric ids and a "role" key in place of user_type.
func (u *UserProfile) UnmarshalJSON(data []byte) error {
	type alias UserProfile
	var raw struct {
		alias
		ID   json.RawMessage `json:"id"`
		Role string          `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = UserProfile(raw.alias)
	u.ID = rawID(raw.ID)
	if u.UserType == "" {
		u.UserType = raw.Role
	}
	return nil
}

// Role resolves the profile's user_type. ok is false for unknown codes.
func (u *UserProfile) Role() (Role, bool) {
	if u == nil {
		return "", false
	}
	return ParseRole(u.UserType)
}

// MerchantID is the restaurant or supermarket the user operates, if any.
func (u *UserProfile) MerchantID() string {
	if u == nil {
		return ""
	}
	if u.RestaurantID != "" {
		return u.RestaurantID
	}
	return u.SupermarketID
}

func (u *UserProfile) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Clone returns a deep copy so callers never share the live profile.
func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	if u.IsApproved != nil {
		v := *u.IsApproved
		c.IsApproved = &v
	}
	if u.IsVerified != nil {
		v := *u.IsVerified
		c.IsVerified = &v
	}
	return &c
}

// ProfileUpdate carries the editable profile fields for PUT auth/me/.
// Role is not editable within a session.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone     *string `json:"phone,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	PhotoURL  *string `json:"photo_profil,omitempty"`
}

// AuthResponse is the body of a successful login or register call.
type AuthResponse struct {
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	User    UserProfile `json:"user"`
}

// RefreshResponse is the body of auth/refresh/.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
