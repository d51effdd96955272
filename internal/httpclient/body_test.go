package httpclient_test

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/torosent/loadpilot/internal/config"
	"github.com/torosent/loadpilot/internal/httpclient"
)

func readAll(t *testing.T, src httpclient.BodySource) string {
	t.Helper()
	r, err := src.NewReader()
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestEmptyBody(t *testing.T) {
	spec := baseSpec("http://example.com")
	src, ct, err := httpclient.NewBodySource(spec)
	if err != nil {
		t.Fatalf("body source: %v", err)
	}
	if ct != "" {
		t.Errorf("expected no content type, got %q", ct)
	}
	if got := readAll(t, src); got != "" {
		t.Errorf("expected empty body, got %q", got)
	}
	if n, ok := src.ContentLength(); !ok || n != 0 {
		t.Errorf("expected zero length, got %d/%v", n, ok)
	}
}

func TestRawStringBodyUnquoted(t *testing.T) {
	spec := baseSpec("http://example.com")
	spec.Body = json.RawMessage(`"plain text payload"`)

	src, ct, err := httpclient.NewBodySource(spec)
	if err != nil {
		t.Fatalf("body source: %v", err)
	}
	if ct != "" {
		t.Errorf("raw bodies carry no default content type, got %q", ct)
	}
	if got := readAll(t, src); got != "plain text payload" {
		t.Errorf("expected unquoted string, got %q", got)
	}
}

func TestJSONBodyPassthrough(t *testing.T) {
	spec := baseSpec("http://example.com")
	spec.BodyType = config.BodyTypeJSON
	spec.Body = json.RawMessage(`{"k":[1,2,3]}`)

	src, ct, err := httpclient.NewBodySource(spec)
	if err != nil {
		t.Fatalf("body source: %v", err)
	}
	if ct != "application/json" {
		t.Errorf("expected json content type, got %q", ct)
	}
	if got := readAll(t, src); got != `{"k":[1,2,3]}` {
		t.Errorf("unexpected body %q", got)
	}
}

func TestFormBodyRejectsNonMapping(t *testing.T) {
	spec := baseSpec("http://example.com")
	spec.BodyType = config.BodyTypeForm
	spec.Body = json.RawMessage(`[1,2]`)

	if _, _, err := httpclient.NewBodySource(spec); err == nil {
		t.Fatal("expected error for non-mapping form body")
	}
}

func TestBodySourceRereadable(t *testing.T) {
	spec := baseSpec("http://example.com")
	spec.BodyType = config.BodyTypeJSON
	spec.Body = json.RawMessage(`{}`)

	src, _, err := httpclient.NewBodySource(spec)
	if err != nil {
		t.Fatalf("body source: %v", err)
	}
	first := readAll(t, src)
	second := readAll(t, src)
	if first != second {
		t.Errorf("readers differ: %q vs %q", first, second)
	}
}
