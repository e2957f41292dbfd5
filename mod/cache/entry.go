package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrEntryTooLarge is reported when a body exceeds the cacheable size
var ErrEntryTooLarge = errors.New("cache: entry exceeds maximum size")

// ErrIncompleteBody is reported when a body was closed before its end
var ErrIncompleteBody = errors.New("cache: response body closed before EOF")

func newMeta(key string, req *http.Request, resp *http.Response, typ ResponseType) Meta {
	method := http.MethodGet
	rawURL := ""
	if req != nil {
		if req.Method != "" {
			method = req.Method
		}
		if req.URL != nil {
			rawURL = req.URL.String()
		}
	}

	return Meta{
		Key:        key,
		Method:     method,
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Type:       typ,
		CachedAt:   time.Now(),
	}
}

// Capture reads the response body into a new Entry and replaces resp.Body
// with an equivalent reader, so the caller can still consume the live
// response. The returned entry is an independent clone. A body larger than
// maxSize fails with ErrEntryTooLarge; maxSize <= 0 means no limit.
func Capture(key string, req *http.Request, resp *http.Response, typ ResponseType, maxSize int64) (*Entry, error) {
	if maxSize > 0 && resp.ContentLength > maxSize {
		return nil, ErrEntryTooLarge
	}

	var body []byte
	if resp.Body != nil {
		var src io.Reader = resp.Body
		if maxSize > 0 {
			src = io.LimitReader(resp.Body, maxSize+1)
		}
		var err error
		body, err = io.ReadAll(src)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if maxSize > 0 && int64(len(body)) > maxSize {
			return nil, ErrEntryTooLarge
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	meta := newMeta(key, req, resp, typ)
	meta.Size = int64(len(body))
	return &Entry{
		Meta: meta,
		Body: append([]byte(nil), body...),
	}, nil
}

// Tee copies the response body into a new Entry while the caller reads it,
// so the response is never buffered before it is returned. done runs exactly
// once: with the entry when the body reaches EOF, or with an error when the
// body exceeds maxSize, fails, or is closed early. maxSize <= 0 means no limit.
//
// Tee returns false and leaves resp untouched when the declared length is
// already over maxSize.
func Tee(key string, req *http.Request, resp *http.Response, typ ResponseType, maxSize int64, done func(*Entry, error)) bool {
	if maxSize > 0 && resp.ContentLength > maxSize {
		return false
	}

	t := &teeBody{
		meta:   newMeta(key, req, resp, typ),
		max:    maxSize,
		expect: resp.ContentLength,
		done:   done,
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		t.finish()
		return true
	}
	t.src = resp.Body
	resp.Body = t
	return true
}

// teeBody is the live body handed to the caller by Tee
type teeBody struct {
	src    io.ReadCloser
	meta   Meta
	max    int64
	expect int64
	done   func(*Entry, error)

	mu   sync.Mutex
	buf  bytes.Buffer
	err  error
	once sync.Once
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)

	t.mu.Lock()
	defer t.mu.Unlock()

	if n > 0 && t.err == nil {
		if t.max > 0 && int64(t.buf.Len()+n) > t.max {
			t.abandon(ErrEntryTooLarge)
		} else {
			t.buf.Write(p[:n])
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		t.finish()
	case err != nil:
		t.abandon(err)
	}
	return n, err
}

func (t *teeBody) Close() error {
	t.mu.Lock()
	if t.expect > 0 && int64(t.buf.Len()) == t.expect {
		// Callers that stop at Content-Length never see EOF
		t.finish()
	} else {
		t.abandon(ErrIncompleteBody)
	}
	t.mu.Unlock()
	return t.src.Close()
}

// abandon drops the copy; the live body keeps streaming
func (t *teeBody) abandon(err error) {
	if t.err == nil {
		t.err = err
		t.buf = bytes.Buffer{}
	}
	t.finish()
}

func (t *teeBody) finish() {
	t.once.Do(func() {
		if t.err != nil {
			t.done(nil, t.err)
			return
		}
		body := t.buf.Bytes()
		t.buf = bytes.Buffer{}

		meta := t.meta
		meta.Size = int64(len(body))
		t.done(&Entry{Meta: meta, Body: body}, nil)
	})
}

// Response builds a fresh *http.Response from the entry. Each call returns an
// independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Meta.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Cache", "HIT")
	header.Set("Age", strconv.FormatInt(e.Meta.Age(), 10))

	status := e.Meta.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.Meta.StatusCode, http.StatusText(e.Meta.StatusCode))
	}

	return &http.Response{
		Status:        status,
		StatusCode:    e.Meta.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// ResponseTypeOf classifies a network response relative to origin.
// With no origin configured every response is treated as basic.
func ResponseTypeOf(origin *url.URL, req *http.Request, resp *http.Response) ResponseType {
	if origin == nil || origin.Host == "" || req == nil || req.URL == nil {
		return ResponseBasic
	}
	if strings.EqualFold(req.URL.Scheme, origin.Scheme) && strings.EqualFold(req.URL.Host, origin.Host) {
		return ResponseBasic
	}
	if resp != nil && resp.Header.Get("Access-Control-Allow-Origin") != "" {
		return ResponseCORS
	}
	return ResponseOpaque
}
