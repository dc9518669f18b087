// Package validation holds the input rules shared by handlers, services and the import path.
package validation

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ProfileURLTag is the binding tag that enforces the profile host allow-list.
const ProfileURLTag = "profileurl"

const (
	MaxUsernameLength = 50
	MaxReasonLength   = 500
	MaxBatchSize      = 50
)

var allowedProfileHosts = map[string]struct{}{
	"x.com":           {},
	"twitter.com":     {},
	"www.x.com":       {},
	"www.twitter.com": {},
}

// IsAllowedProfileURL reports whether candidate is an absolute URL whose host
// is one of the supported profile domains. Subdomains and lookalikes are rejected.
func IsAllowedProfileURL(candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if u.Scheme == "" || u.Host == "" {
		return false
	}
	_, ok := allowedProfileHosts[strings.ToLower(u.Hostname())]
	return ok
}

// NormalizeUsername trims whitespace and strips a single leading '@'.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.TrimSpace(s)
}

// IsValidUsername reports whether a normalized username is usable as a registry key.
// Length is counted in characters, like the binding max rule and the column type.
func IsValidUsername(s string) bool {
	return s != "" && utf8.RuneCountInString(s) <= MaxUsernameLength
}

func profileURL(fl validator.FieldLevel) bool {
	return IsAllowedProfileURL(fl.Field().String())
}

// RegisterBindings installs the custom rules on gin's validator engine.
func RegisterBindings() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation(ProfileURLTag, profileURL)
}
