package middleware

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
)

// Path parameter limits.
const (
	MaxUserIDLength = 255
	MaxKeyIDLength  = 512
)

// Validation errors.
var (
	ErrIDEmpty   = errors.New("identifier is empty")
	ErrIDTooLong = errors.New("identifier exceeds maximum length")
	ErrIDInvalid = errors.New("identifier contains invalid characters")
)

// PathParam returns the decoded value of a route parameter. Entity refs
// contain a slash, so clients send them percent-encoded.
func PathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ValidateUserID checks an account identifier taken from a path or body.
func ValidateUserID(id string) error {
	return validateID(id, MaxUserIDLength)
}

// ValidateKeyID checks a key identifier taken from a path.
func ValidateKeyID(id string) error {
	return validateID(id, MaxKeyIDLength)
}

func validateID(id string, maxLen int) error {
	if strings.TrimSpace(id) == "" {
		return ErrIDEmpty
	}
	if len(id) > maxLen {
		return ErrIDTooLong
	}
	if !utf8.ValidString(id) {
		return ErrIDInvalid
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ErrIDInvalid
		}
	}
	return nil
}

// ValidatePathParams rejects requests whose userId or keyId route
// parameters are malformed before any upstream call is made.
func ValidatePathParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasParam(r, "userId") {
			if err := ValidateUserID(PathParam(r, "userId")); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "userId "+err.Error())
				return
			}
		}
		if hasParam(r, "keyId") {
			if err := ValidateKeyID(PathParam(r, "keyId")); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_KEY_ID", "keyId "+err.Error())
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// hasParam reports whether the matched route declares the parameter.
func hasParam(r *http.Request, name string) bool {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return false
	}
	for _, key := range rctx.URLParams.Keys {
		if key == name {
			return true
		}
	}
	return false
}
