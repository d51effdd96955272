package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/torosent/loadpilot/internal/config"
)

// BodySource yields a fresh reader for each request attempt.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// NewBodySource materialises the spec body according to its body-type tag.
// The returned content type is a default; user headers take precedence.
func NewBodySource(spec *config.TestSpec) (BodySource, string, error) {
	if spec == nil {
		return nil, "", errors.New("spec cannot be nil")
	}
	if len(spec.Body) == 0 {
		return emptyBodySource{}, "", nil
	}

	switch spec.BodyType {
	case config.BodyTypeJSON:
		return &inlineBodySource{data: append([]byte(nil), spec.Body...)}, "application/json", nil

	case config.BodyTypeForm:
		parsed := gjson.ParseBytes(spec.Body)
		if !parsed.IsObject() {
			return nil, "", errors.New("form body must be a mapping")
		}
		values := url.Values{}
		parsed.ForEach(func(key, value gjson.Result) bool {
			values.Set(key.String(), value.String())
			return true
		})
		return &inlineBodySource{data: []byte(values.Encode())}, "application/x-www-form-urlencoded", nil

	default:
		// Raw: a JSON string is sent unquoted, anything else as-is.
		data := spec.Body
		if parsed := gjson.ParseBytes(spec.Body); parsed.Type == gjson.String {
			data = []byte(parsed.String())
		}
		return &inlineBodySource{data: append([]byte(nil), data...)}, "", nil
	}
}

type inlineBodySource struct {
	data []byte
}

func (s *inlineBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *inlineBodySource) ContentLength() (int64, bool) {
	return int64(len(s.data)), true
}

type emptyBodySource struct{}

func (emptyBodySource) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (emptyBodySource) ContentLength() (int64, bool) {
	return 0, true
}
