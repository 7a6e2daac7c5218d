package envfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/osa911/stackctl/internal/utils"
)

// Severity of a Problem.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Problem describes one issue found in an Env.
type Problem struct {
	Key      string
	Message  string
	Severity Severity
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Key, p.Message)
}

// HasErrors reports whether any problem is an error.
func HasErrors(problems []Problem) bool {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Validate checks value formats by key shape. Unset keys are skipped;
// Missing covers presence.
func (e *Env) Validate() []Problem {
	var problems []Problem
	for _, key := range e.Keys() {
		value := e.Get(key)
		if value == "" {
			continue
		}

		switch {
		case key == "DOMAIN" || strings.HasSuffix(key, "_DOMAIN"):
			if !utils.IsValidDomain(value) {
				msg := fmt.Sprintf("%q is not a valid domain name", value)
				if d := utils.NormalizeDomain(value); d != value && utils.IsValidDomain(d) {
					msg += fmt.Sprintf(" (use %q)", d)
				}
				problems = append(problems, Problem{Key: key, Message: msg, Severity: SeverityError})
			}
		case strings.HasSuffix(key, "_EMAIL") || key == "EMAIL":
			if err := validate.Var(value, "required,email"); err != nil {
				problems = append(problems, Problem{Key: key, Message: fmt.Sprintf("%q is not a valid email address", value), Severity: SeverityError})
			}
		case strings.HasSuffix(key, "_PORT") || key == "PORT":
			port, err := strconv.Atoi(value)
			if err != nil || validate.Var(port, "gte=1,lte=65535") != nil {
				problems = append(problems, Problem{Key: key, Message: fmt.Sprintf("%q is not a valid port", value), Severity: SeverityError})
			}
		case strings.HasSuffix(key, "_URL") && !strings.Contains(key, "DATABASE"):
			if err := validate.Var(value, "url"); err != nil {
				problems = append(problems, Problem{Key: key, Message: fmt.Sprintf("%q is not a valid URL", value), Severity: SeverityError})
			}
		}
	}
	return problems
}

// weakValues are rejected for any secret-shaped key regardless of length.
var weakValues = map[string]bool{
	"password": true, "passw0rd": true, "secret": true, "changeme": true, "change_me": true,
	"admin": true, "root": true, "postgres": true, "123456": true, "12345678": true,
	"qwerty": true, "letmein": true, "default": true, "test": true,
}

var placeholderMarkers = []string{"changeme", "change_me", "change-me", "your_", "your-", "example", "replace", "xxxx", "<", "todo"}

// IsSecretKey reports whether key names a credential.
func IsSecretKey(key string) bool {
	k := strings.ToUpper(key)
	if strings.HasSuffix(k, "_FILE") || strings.HasSuffix(k, "_USER") || strings.HasSuffix(k, "_PATH") {
		return false
	}
	return strings.Contains(k, "PASSWORD") ||
		strings.Contains(k, "SECRET") ||
		strings.Contains(k, "TOKEN") ||
		strings.HasSuffix(k, "_KEY") ||
		strings.HasSuffix(k, "_PASS")
}

// MinSecretLength returns the minimum accepted length for a secret key.
func MinSecretLength(key string) int {
	if strings.Contains(strings.ToUpper(key), "JWT") {
		return 32
	}
	return 12
}

// IsPlaceholder reports whether value looks like an unedited template value.
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, marker := range placeholderMarkers {
		if strings.Contains(v, marker) {
			return true
		}
	}
	return false
}

// WeakSecrets returns a warning for every secret key holding a short,
// well-known or placeholder value.
func (e *Env) WeakSecrets() []Problem {
	var problems []Problem
	for _, key := range e.Keys() {
		if !IsSecretKey(key) {
			continue
		}
		value := e.Get(key)
		if value == "" {
			continue
		}

		var msg string
		switch {
		case weakValues[strings.ToLower(value)]:
			msg = "uses a well-known weak value"
		case IsPlaceholder(value):
			msg = "still holds a template placeholder"
		case len(value) < MinSecretLength(key):
			msg = fmt.Sprintf("is shorter than %d characters", MinSecretLength(key))
		default:
			continue
		}
		problems = append(problems, Problem{Key: key, Message: msg, Severity: SeverityWarning})
	}
	return problems
}
