package handlers

import (
	"errors"
	"net/http"
	"strings"

	"food-delivery-client/logging"
	"food-delivery-client/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler carries what every endpoint needs.
type Handler struct {
	DB     *gorm.DB
	Tokens *middleware.TokenIssuer
	Log    logrus.FieldLogger
	// ResetMailer delivers password reset tokens. The default logs them.
	ResetMailer func(email, token string)
}

func New(db *gorm.DB, tokens *middleware.TokenIssuer, log logrus.FieldLogger) *Handler {
	h := &Handler{DB: db, Tokens: tokens, Log: logging.OrDiscard(log)}
	h.ResetMailer = func(email, token string) {
		h.Log.WithField("email", email).Info("password reset requested")
	}
	return h
}

// bind decodes the JSON body and answers 400 with per-field messages, in the
// shape clients render next to form inputs.
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Malformed request body"})
		return false
	}
	fields := gin.H{}
	for _, fe := range verrs {
		name := jsonName(fe)
		fields[name] = []string{fieldMessage(fe)}
	}
	c.JSON(http.StatusBadRequest, fields)
	return false
}

func jsonName(fe validator.FieldError) string {
	// gin's validator reports Go field names; the wire uses snake_case
	var b strings.Builder
	for i, r := range fe.Field() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Ensure this field has at least " + fe.Param() + " characters."
	case "oneof":
		return "Must be one of: " + fe.Param() + "."
	case "eqfield":
		return "Passwords do not match."
	default:
		return "Invalid value."
	}
}
