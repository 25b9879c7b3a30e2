package middleware

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"food-delivery-client/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

// Backend error codes on 401 bodies
const (
	CodeTokenNotValid      = "token_not_valid"
	CodeUserNotFound       = "user_not_found"
	CodeAccountDeactivated = "account_deactivated"
)

const ctxAccount = "account"

type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs access tokens and mints opaque refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// GenerateAccess creates a signed JWT for an account
func (t *TokenIssuer) GenerateAccess(acc *models.Account) (string, error) {
	now := t.now()
	claims := Claims{
		UserID:   acc.ID,
		Email:    acc.Email,
		UserType: acc.UserType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GenerateRefresh returns a random refresh token, the hash to store, and
// its expiry. Only the hash is ever persisted.
func (t *TokenIssuer) GenerateRefresh() (raw, hash string, expires time.Time, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", time.Time{}, err
	}
	raw = hex.EncodeToString(buf)
	return raw, HashToken(raw), t.now().Add(t.refreshTTL), nil
}

// Now is the issuer's clock.
func (t *TokenIssuer) Now() time.Time { return t.now() }

// HashToken is the storage form of refresh and reset tokens
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthRequired validates the JWT, loads the account, and rejects deleted or
// deactivated accounts with a coded 401 the client treats as account-gone.
func AuthRequired(tokens *TokenIssuer, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		claims, err := tokens.Parse(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Given token not valid for any token type",
				"code":   CodeTokenNotValid,
			})
			return
		}

		var acc models.Account
		err = db.WithContext(c.Request.Context()).Unscoped().Where("id = ?", claims.UserID).First(&acc).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if err != nil || acc.DeletedAt.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "Utilisateur non trouvé",
				"code":   CodeUserNotFound,
			})
			return
		}
		if !acc.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": "User account is deactivated",
				"code":   CodeAccountDeactivated,
			})
			return
		}

		c.Set(ctxAccount, &acc)
		c.Next()
	}
}

// RoleRequired enforces that caller has one of the allowed user types
func RoleRequired(userTypes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		acc := GetAccount(c)
		if acc == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Role not found in context"})
			return
		}
		for _, t := range userTypes {
			if acc.UserType == t {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"detail": "Access denied. Required role(s): " + strings.Join(userTypes, ", "),
		})
	}
}

// GetAccount returns the authenticated account, nil outside AuthRequired
func GetAccount(c *gin.Context) *models.Account {
	val, ok := c.Get(ctxAccount)
	if !ok {
		return nil
	}
	acc, _ := val.(*models.Account)
	return acc
}
