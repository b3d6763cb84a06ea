package wreq

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haivivi/wreq/go/pkg/body"
)

// request collects what RequestOptions set before the HTTP request is built.
type request struct {
	header      http.Header
	query       url.Values
	body        io.Reader
	stream      *body.Receiver
	contentType string
	length      int64
	timeout     time.Duration
	err         error
}

// RequestOption configures a single request.
type RequestOption func(*request)

// Header adds a request header.
func Header(key, value string) RequestOption {
	return func(r *request) {
		r.header.Add(key, value)
	}
}

// Query adds a query parameter to the URL.
func Query(key, value string) RequestOption {
	return func(r *request) {
		r.query.Add(key, value)
	}
}

// JSON sends v encoded as JSON.
func JSON(v any) RequestOption {
	return func(r *request) {
		data, err := json.Marshal(v)
		if err != nil {
			r.err = err
			return
		}
		r.setBytes(data, "application/json")
	}
}

// Form sends values URL-encoded.
func Form(values url.Values) RequestOption {
	return func(r *request) {
		r.setBytes([]byte(values.Encode()), "application/x-www-form-urlencoded")
	}
}

// Bytes sends data as is.
func Bytes(data []byte) RequestOption {
	return func(r *request) {
		r.setBytes(data, "")
	}
}

// Text sends s as text/plain.
func Text(s string) RequestOption {
	return func(r *request) {
		r.setBytes([]byte(s), "text/plain; charset=utf-8")
	}
}

// Stream sends the chunks pushed into the receiver's channel, using chunked
// transfer encoding. The receiver is consumed by the request.
func Stream(rx *body.Receiver) RequestOption {
	return func(r *request) {
		r.body = nil
		r.stream = rx
		r.length = -1
	}
}

// BearerAuth sets an Authorization: Bearer header.
func BearerAuth(token string) RequestOption {
	return func(r *request) {
		r.header.Set("Authorization", "Bearer "+token)
	}
}

// BasicAuth sets an Authorization: Basic header.
func BasicAuth(username, password string) RequestOption {
	return func(r *request) {
		req := http.Request{Header: http.Header{}}
		req.SetBasicAuth(username, password)
		r.header.Set("Authorization", req.Header.Get("Authorization"))
	}
}

// Timeout bounds the whole request, including reading the body.
func Timeout(d time.Duration) RequestOption {
	return func(r *request) {
		r.timeout = d
	}
}

func (r *request) setBytes(data []byte, contentType string) {
	r.stream = nil
	r.body = bytes.NewReader(data)
	r.length = int64(len(data))
	r.contentType = contentType
}

func (r *request) url(raw string) (string, error) {
	if len(r.query) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range r.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func hasScheme(raw, scheme string) bool {
	return strings.HasPrefix(strings.ToLower(raw), scheme+"://")
}
