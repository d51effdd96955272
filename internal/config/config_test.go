package config_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/torosent/loadpilot/internal/config"
)

func validSpec() *config.TestSpec {
	return &config.TestSpec{
		URL:      "http://example.com/api",
		Method:   "GET",
		Users:    10,
		Duration: 30,
	}
}

func TestValidateAcceptsMinimalSpec(t *testing.T) {
	spec := validSpec()
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		t.Fatalf("expected valid spec, got %v", err)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	spec := &config.TestSpec{URL: " http://example.com ", Users: 1, Duration: 5}
	spec.Normalize()

	if spec.Method != "GET" {
		t.Errorf("expected default method GET, got %q", spec.Method)
	}
	if spec.BodyType != config.BodyTypeRaw {
		t.Errorf("expected default bodyType raw, got %q", spec.BodyType)
	}
	if spec.Backend != config.BackendHTTP {
		t.Errorf("expected default backend http, got %q", spec.Backend)
	}
	if spec.URL != "http://example.com" {
		t.Errorf("expected trimmed url, got %q", spec.URL)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.TestSpec)
		want   string
	}{
		{"missing url", func(s *config.TestSpec) { s.URL = "" }, "url is required"},
		{"bad scheme", func(s *config.TestSpec) { s.URL = "ftp://example.com" }, "scheme"},
		{"relative url", func(s *config.TestSpec) { s.URL = "http://" }, "absolute"},
		{"bad method", func(s *config.TestSpec) { s.Method = "TRACE" }, "method"},
		{"zero users", func(s *config.TestSpec) { s.Users = 0 }, "users"},
		{"negative tps", func(s *config.TestSpec) { s.TargetTPS = -1 }, "target_tps"},
		{"duration and loop", func(s *config.TestSpec) { s.LoopCount = 5 }, "mutually exclusive"},
		{"neither duration nor loop", func(s *config.TestSpec) { s.Duration = 0 }, "exactly one"},
		{"ramp exceeds duration", func(s *config.TestSpec) { s.RampUp = 60 }, "rampUp"},
		{"bad body type", func(s *config.TestSpec) { s.BodyType = "xml" }, "bodyType"},
		{"form body not mapping", func(s *config.TestSpec) {
			s.BodyType = config.BodyTypeForm
			s.Body = json.RawMessage(`"plain"`)
		}, "mapping"},
		{"basic auth missing password", func(s *config.TestSpec) {
			s.Auth = &config.AuthSpec{Type: config.AuthTypeBasic, Username: "u"}
		}, "basic"},
		{"bearer missing token", func(s *config.TestSpec) {
			s.Auth = &config.AuthSpec{Type: config.AuthTypeBearer}
		}, "bearer"},
		{"unknown backend", func(s *config.TestSpec) { s.Backend = "jmeter" }, "backend"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(spec)
			spec.Normalize()
			err := spec.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestValidationErrorCollectsAllIssues(t *testing.T) {
	spec := &config.TestSpec{}
	spec.Normalize()
	err := spec.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(config.ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Issues()) < 2 {
		t.Errorf("expected multiple issues, got %v", verr.Issues())
	}
}

func TestIterationModeHelpers(t *testing.T) {
	spec := &config.TestSpec{URL: "http://example.com", Users: 1, LoopCount: 10, RampUp: 5}
	spec.Normalize()

	if !spec.IterationMode() {
		t.Fatal("expected iteration mode")
	}
	// Ramp-up applies only in duration mode.
	if spec.RampDuration() != 0 {
		t.Errorf("expected zero ramp in iteration mode, got %s", spec.RampDuration())
	}
}

func TestTimeoutFallback(t *testing.T) {
	spec := validSpec()
	if got := spec.Timeout(30 * time.Second); got != 30*time.Second {
		t.Errorf("expected default timeout, got %s", got)
	}
	spec.RequestTimeout = 5
	if got := spec.Timeout(30 * time.Second); got != 5*time.Second {
		t.Errorf("expected 5s timeout, got %s", got)
	}
}
