package wreq

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"

	"golang.org/x/net/html/charset"

	"github.com/haivivi/wreq/go/pkg/body"
	"github.com/haivivi/wreq/go/pkg/gvl"
)

// Response is an HTTP response whose body is read on demand. The body can
// be buffered once and then read any number of times, or streamed out
// once.
//
// Response is safe for use by several interpreter threads, but only one of
// them can access the body at a time; the others get ErrBorrowConflict.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	ContentLength int64
	URL           *url.URL
	Cookies       []*http.Cookie

	// LocalAddr and RemoteAddr of the connection that served the response.
	// Nil when the transport did not report them.
	LocalAddr  net.Addr
	RemoteAddr net.Addr

	// RequestID is the X-Request-Id sent with the request.
	RequestID string

	method   string
	capacity int
	holder   *bodyHolder
	fin      gvl.Finalizer
}

func newResponse(h gvl.Host, method, requestID string, capacity int, resp *http.Response, local, remote net.Addr) *Response {
	r := &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		URL:           resp.Request.URL,
		Cookies:       resp.Cookies(),
		LocalAddr:     local,
		RemoteAddr:    remote,
		RequestID:     requestID,
		method:        method,
		capacity:      capacity,
		holder:        newBodyHolder(resp.Body),
	}
	fin, _ := h.(gvl.Finalizer)
	r.fin = fin
	runtime.AddCleanup(r, func(b *bodyHolder) {
		if fin != nil {
			fin.Defer(b.release)
			return
		}
		b.release()
	}, r.holder)
	return r
}

// Bytes returns the whole body. The first call reads it from the network
// with the interpreter lock released; later calls return the same bytes
// without I/O. The returned slice must not be modified.
func (r *Response) Bytes(h gvl.Host) ([]byte, error) {
	data, err := r.holder.bytes(h)
	if e, ok := AsError(err); ok && e.Method == "" {
		e.Method, e.URL = r.method, r.URL.String()
	}
	return data, err
}

// Text returns the body decoded to UTF-8 using the charset from the
// Content-Type header, or sniffed from the content when absent.
func (r *Response) Text(h gvl.Host) (string, error) {
	data, err := r.Bytes(h)
	if err != nil {
		return "", err
	}
	rd, err := charset.NewReader(bytes.NewReader(data), r.Header.Get("Content-Type"))
	if err != nil {
		return "", wrapErr(KindDecoding, r.method, r.URL.String(), err)
	}
	text, err := io.ReadAll(rd)
	if err != nil {
		return "", wrapErr(KindDecoding, r.method, r.URL.String(), err)
	}
	return string(text), nil
}

// JSON decodes the body into v.
func (r *Response) JSON(h gvl.Host, v any) error {
	data, err := r.Bytes(h)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return wrapErr(KindDecoding, r.method, r.URL.String(), err)
	}
	return nil
}

// Chunks streams the body through a bounded channel. A body that was not
// buffered moves into the receiver and cannot be read again from the
// response; a buffered body is replayed from memory.
func (r *Response) Chunks() (*body.Receiver, error) {
	rc, err := r.holder.stream()
	if err != nil {
		return nil, err
	}
	return body.NewStreamer(rc, r.capacity, r.fin), nil
}

// Reader hands the body out as an io.ReadCloser, with the same ownership
// rules as Chunks.
func (r *Response) Reader() (io.ReadCloser, error) {
	return r.holder.stream()
}

// Close releases the body. Later body accesses return ErrBodyConsumed.
func (r *Response) Close() error {
	return r.holder.close()
}

// ErrorForStatus returns a KindStatus *Error for 4xx and 5xx responses.
func (r *Response) ErrorForStatus() error {
	if r.StatusCode < 400 {
		return nil
	}
	return &Error{
		Kind:       KindStatus,
		Method:     r.method,
		URL:        r.URL.String(),
		StatusCode: r.StatusCode,
	}
}
