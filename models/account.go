package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is the reference backend's persisted user.
type Account struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	Email        string         `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string         `json:"-" gorm:"not null"`
	FirstName    string         `json:"first_name"`
	LastName     string         `json:"last_name"`
	Phone        string         `json:"phone"`
	UserType     string         `json:"user_type" gorm:"not null;default:'CLIENT'"`
	IsActive     bool           `json:"is_active" gorm:"not null;default:true"`
	IsVerified   bool           `json:"is_verified" gorm:"default:false"`
	MerchantID   string         `json:"merchant_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// Profile renders the account in the auth/me/ wire shape.
func (a *Account) Profile() UserProfile {
	verified := a.IsVerified
	approved := a.IsActive
	p := UserProfile{
		ID:         a.ID,
		Email:      a.Email,
		Phone:      a.Phone,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		UserType:   a.UserType,
		IsApproved: &approved,
		IsVerified: &verified,
	}
	switch a.UserType {
	case UserTypeRestaurant:
		p.RestaurantID = a.MerchantID
	case UserTypeSupermarket:
		p.SupermarketID = a.MerchantID
	}
	return p
}

// RefreshToken is a hashed, revocable refresh credential.
type RefreshToken struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	AccountID string    `json:"account_id" gorm:"index;not null"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null;size:64"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Revoked   bool      `json:"revoked" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// PasswordReset is a single-use reset token.
type PasswordReset struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	AccountID string    `json:"account_id" gorm:"index;not null"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null;size:64"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Used      bool      `json:"used" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}
