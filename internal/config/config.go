package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// BodyType tags how the request body field should be interpreted.
type BodyType string

const (
	BodyTypeRaw  BodyType = "raw"
	BodyTypeForm BodyType = "form"
	BodyTypeJSON BodyType = "json"
)

// AuthType selects the authentication variant applied to outgoing requests.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
)

// Backend selects which runner implementation drives the test.
type Backend string

const (
	BackendHTTP      Backend = "http"
	BackendSimulated Backend = "simulated"
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// AuthSpec describes request authentication.
type AuthSpec struct {
	Type     AuthType `json:"type"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Token    string   `json:"token,omitempty"`
}

// TestSpec is the wire-format test configuration accepted by the control API.
// It is immutable after Normalize+Validate; runners receive it by pointer and
// never mutate it.
type TestSpec struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
	BodyType BodyType          `json:"bodyType,omitempty"`
	Auth     *AuthSpec         `json:"auth,omitempty"`

	Users     int     `json:"users"`
	TargetTPS float64 `json:"target_tps,omitempty"`
	Duration  int     `json:"duration,omitempty"`
	RampUp    int     `json:"rampUp,omitempty"`
	LoopCount int     `json:"loopCount,omitempty"`

	RequestTimeout int     `json:"requestTimeoutSeconds,omitempty"`
	Backend        Backend `json:"backend,omitempty"`
}

// Normalize fills defaults before validation.
func (s *TestSpec) Normalize() {
	s.URL = strings.TrimSpace(s.URL)
	method := strings.ToUpper(strings.TrimSpace(s.Method))
	if method == "" {
		method = "GET"
	}
	s.Method = method
	if s.BodyType == "" {
		s.BodyType = BodyTypeRaw
	}
	if s.Backend == "" {
		s.Backend = BackendHTTP
	}
	if s.Auth != nil && s.Auth.Type == "" {
		s.Auth.Type = AuthTypeNone
	}
}

// IterationMode reports whether the test is bounded by loop count rather
// than wall-clock duration.
func (s *TestSpec) IterationMode() bool { return s.LoopCount > 0 }

// RunDuration returns the configured duration as a time.Duration.
func (s *TestSpec) RunDuration() time.Duration {
	return time.Duration(s.Duration) * time.Second
}

// RampDuration returns the ramp-up window. Ramp applies only in duration mode.
func (s *TestSpec) RampDuration() time.Duration {
	if s.IterationMode() {
		return 0
	}
	return time.Duration(s.RampUp) * time.Second
}

// Timeout returns the per-request timeout, falling back to def.
func (s *TestSpec) Timeout(def time.Duration) time.Duration {
	if s.RequestTimeout > 0 {
		return time.Duration(s.RequestTimeout) * time.Second
	}
	return def
}

// ValidationError aggregates every issue found in a TestSpec so the caller
// sees them all at once.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the spec against the acceptance rules. Call Normalize first.
func (s *TestSpec) Validate() error {
	var issues []string

	if s.URL == "" {
		issues = append(issues, "url is required")
	} else {
		u, err := url.Parse(s.URL)
		if err != nil {
			issues = append(issues, fmt.Sprintf("url is not parseable: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			issues = append(issues, fmt.Sprintf("url scheme %q is not supported (http or https)", u.Scheme))
		} else if u.Host == "" {
			issues = append(issues, "url must be absolute")
		}
	}

	if !allowedMethods[s.Method] {
		issues = append(issues, fmt.Sprintf("method %q is not supported", s.Method))
	}

	if s.Users < 1 {
		issues = append(issues, "users must be >= 1")
	}
	if s.TargetTPS < 0 {
		issues = append(issues, "target_tps must be >= 0")
	}

	switch {
	case s.Duration > 0 && s.LoopCount > 0:
		issues = append(issues, "duration and loopCount are mutually exclusive")
	case s.Duration <= 0 && s.LoopCount <= 0:
		issues = append(issues, "exactly one of duration or loopCount is required")
	case s.Duration < 0:
		issues = append(issues, "duration must be > 0")
	case s.LoopCount < 0:
		issues = append(issues, "loopCount must be > 0")
	}

	if s.RampUp < 0 {
		issues = append(issues, "rampUp must be >= 0")
	}
	if s.Duration > 0 && s.RampUp > s.Duration {
		issues = append(issues, "rampUp must be <= duration")
	}

	switch s.BodyType {
	case BodyTypeRaw, BodyTypeJSON:
	case BodyTypeForm:
		if len(s.Body) > 0 && !gjson.ParseBytes(s.Body).IsObject() {
			issues = append(issues, "bodyType form requires a mapping body")
		}
	default:
		issues = append(issues, fmt.Sprintf("bodyType %q is not supported", s.BodyType))
	}

	if s.Auth != nil {
		switch s.Auth.Type {
		case AuthTypeNone:
		case AuthTypeBasic:
			if strings.TrimSpace(s.Auth.Username) == "" || strings.TrimSpace(s.Auth.Password) == "" {
				issues = append(issues, "auth: basic requires username and password")
			}
		case AuthTypeBearer:
			if strings.TrimSpace(s.Auth.Token) == "" {
				issues = append(issues, "auth: bearer requires a token")
			}
		default:
			issues = append(issues, fmt.Sprintf("auth: unsupported type %q", s.Auth.Type))
		}
	}

	switch s.Backend {
	case BackendHTTP, BackendSimulated:
	default:
		issues = append(issues, fmt.Sprintf("backend %q is not supported", s.Backend))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}
