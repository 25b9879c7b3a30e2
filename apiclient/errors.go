package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// AccountGoneMarker is carried in the text of every account-gone error.
const AccountGoneMarker = "ACCOUNT_GONE"

// Backend codes meaning the authenticated account no longer exists.
const (
	CodeUserNotFound       = "user_not_found"
	CodeUserDeleted        = "user_deleted"
	CodeAccountDeactivated = "account_deactivated"
)

var (
	ErrAccountGone   = errors.New("account no longer exists (" + AccountGoneMarker + ")")
	ErrRefreshFailed = errors.New("token refresh failed")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNetwork       = errors.New("network failure")
)

// Kind classifies a failed call.
type Kind int

const (
	KindOther Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindAccountGone
	KindRefreshFailed
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindAccountGone:
		return "account_gone"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "other"
	}
}

// Error is returned for every failed call made through the Client.
type Error struct {
	Kind   Kind
	Status int
	Method string
	Path   string
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.Path)
	if e.Status > 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if msg := bodyMessage(e.Body); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrAccountGone:
		return e.Kind == KindAccountGone
	case ErrRefreshFailed:
		return e.Kind == KindRefreshFailed
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrNetwork:
		return e.Kind == KindNetwork
	}
	return false
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindOther
	}
}

// detail substrings used when the backend sends no explicit code
var accountGoneTerms = []string{"utilisateur", "not found", "deleted", "deactivated"}

// IsAccountGoneBody reports whether a 401 body says the account was
// deleted or deactivated. The code field wins; detail matching is a fallback.
func IsAccountGoneBody(body []byte) bool {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false
	}
	res := gjson.ParseBytes(body)
	if !res.IsObject() {
		return false
	}
	if code := strings.ToLower(res.Get("code").String()); code != "" {
		return code == CodeUserNotFound || code == CodeUserDeleted || code == CodeAccountDeactivated
	}
	detail := res.Get("detail")
	if detail.Type != gjson.String {
		return false
	}
	d := strings.ToLower(detail.String())
	for _, term := range accountGoneTerms {
		if strings.Contains(d, term) {
			return true
		}
	}
	return false
}

// IsAccountGone reports whether err means the account is gone, either as
// classified by the transport, by a raw 401 body, or by the literal marker.
func IsAccountGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountGone) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && IsAccountGoneBody(apiErr.Body) {
		return true
	}
	return strings.Contains(err.Error(), AccountGoneMarker)
}

// KindOf returns the classification of err, KindOther for foreign errors.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// Message extracts a human-readable string from err, trying in order a plain
// string body, {error}, {detail}, {non_field_errors}, the first named field,
// and finally the raw JSON. fallback is used when nothing usable is found.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if msg := bodyMessage(apiErr.Body); msg != "" {
			return msg
		}
		if apiErr.Err != nil {
			return apiErr.Err.Error()
		}
		if fallback != "" {
			return fallback
		}
		return apiErr.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

func bodyMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	if !gjson.Valid(trimmed) {
		return trimmed
	}
	res := gjson.Parse(trimmed)
	switch {
	case res.Type == gjson.String:
		return res.String()
	case res.IsArray():
		return firstString(res)
	case !res.IsObject():
		return res.Raw
	}

	for _, key := range []string{"error", "detail"} {
		if v := res.Get(key); v.Exists() {
			if s := firstString(v); s != "" {
				return s
			}
		}
	}
	if s := firstString(res.Get("non_field_errors")); s != "" {
		return s
	}
	for _, key := range []string{"email", "password"} {
		if s := firstString(res.Get(key)); s != "" {
			return s
		}
	}
	var msg string
	res.ForEach(func(_, v gjson.Result) bool {
		msg = firstString(v)
		return msg == ""
	})
	if msg != "" {
		return msg
	}
	return res.Raw
}

// firstString returns v itself for a string, or the first string of an array.
func firstString(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		for _, item := range v.Array() {
			if item.Type == gjson.String && item.String() != "" {
				return item.String()
			}
		}
	}
	return ""
}

// FieldErrors returns per-field validation messages from a 400 body, for
// forms that display errors next to inputs.
func FieldErrors(err error) map[string][]string {
	var apiErr *Error
	if !errors.As(err, &apiErr) || len(apiErr.Body) == 0 || !gjson.ValidBytes(apiErr.Body) {
		return nil
	}
	res := gjson.ParseBytes(apiErr.Body)
	if !res.IsObject() {
		return nil
	}
	fields := make(map[string][]string)
	res.ForEach(func(k, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			fields[k.String()] = []string{v.String()}
		case v.IsArray():
			var msgs []string
			for _, item := range v.Array() {
				if item.Type == gjson.String {
					msgs = append(msgs, item.String())
				}
			}
			if len(msgs) > 0 {
				fields[k.String()] = msgs
			}
		}
		return true
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
