package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/fetchkit/pfetch/pkg/logging"
)

// Status is the coarse classification of a finished transfer.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusForbidden
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusForbidden:
		return "forbidden"
	default:
		return "failed"
	}
}

var (
	ErrTransferOwned = errors.New("transfer is owned by a batch")
	ErrRangeIgnored  = errors.New("server ignored the range request")
	ErrShortBody     = errors.New("response body length does not match the requested length")
)

// Classify maps an HTTP status code: 2xx and 3xx succeed, 403 is forbidden, anything else failed.
func Classify(statusCode int) Status {
	switch {
	case statusCode/100 == 2 || statusCode/100 == 3:
		return StatusSuccess
	case statusCode == http.StatusForbidden:
		return StatusForbidden
	default:
		return StatusFailed
	}
}

// Outcome is what a transfer reports once it reaches a terminal state.
type Outcome struct {
	Status        Status
	StatusCode    int
	ContentLength int64
	EffectiveURL  string
	AcceptsRanges bool
	BytesWritten  int64
	// Err is the raw transport or body error, if any.
	Err error
}

func (o Outcome) Successful() bool {
	return o.Status == StatusSuccess
}

func (o Outcome) Forbidden() bool {
	return o.Status == StatusForbidden
}

// Transfer is one HTTP exchange bound to a URL. It is created by Engine.NewTransfer and
// either executed directly or handed to a Batch.
type Transfer struct {
	engine   *Engine
	url      string
	method   string
	hasRange bool
	start    int64
	end      int64 // inclusive; -1 means open ended
	target   io.Writer
	expected int64
	headers  map[string]string
	body     io.Reader

	mu    sync.Mutex
	owner *Batch
}

type TransferOption func(*Transfer)

func WithMethod(method string) TransferOption {
	return func(t *Transfer) { t.method = method }
}

// WithRange requests bytes start..end inclusive, as written on the wire.
func WithRange(start, end int64) TransferOption {
	return func(t *Transfer) {
		t.hasRange = true
		t.start = start
		t.end = end
	}
}

// WithRangeFrom requests everything from start to the end of the resource.
func WithRangeFrom(start int64) TransferOption {
	return func(t *Transfer) {
		t.hasRange = true
		t.start = start
		t.end = -1
	}
}

// WithTarget sets where the response body is written. Without a target the body is not read.
func WithTarget(w io.Writer) TransferOption {
	return func(t *Transfer) { t.target = w }
}

// WithExpectedLength makes the transfer fail unless exactly n body bytes are written.
func WithExpectedLength(n int64) TransferOption {
	return func(t *Transfer) { t.expected = n }
}

func WithHeader(key, value string) TransferOption {
	return func(t *Transfer) { t.headers[key] = value }
}

// WithBody sends body as the request payload with the given Content-Type. It does not change
// the method.
func WithBody(body io.Reader, contentType string) TransferOption {
	return func(t *Transfer) {
		t.body = body
		t.headers["Content-Type"] = contentType
	}
}

func (e *Engine) NewTransfer(url string, opts ...TransferOption) *Transfer {
	t := &Transfer{
		engine:   e,
		url:      url,
		method:   http.MethodGet,
		expected: -1,
		headers:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RangeHeader returns the Range header value the transfer will send, or "".
func (t *Transfer) RangeHeader() string {
	if !t.hasRange {
		return ""
	}
	if t.end < 0 {
		return fmt.Sprintf("bytes=%d-", t.start)
	}
	return fmt.Sprintf("bytes=%d-%d", t.start, t.end)
}

// Execute runs the transfer synchronously. A transfer currently granted to a Batch cannot be
// executed directly.
func (t *Transfer) Execute(ctx context.Context) Outcome {
	t.mu.Lock()
	owned := t.owner != nil
	t.mu.Unlock()
	if owned {
		return Outcome{Status: StatusFailed, EffectiveURL: t.url, ContentLength: -1, Err: ErrTransferOwned}
	}
	return t.run(ctx)
}

func (t *Transfer) run(ctx context.Context) Outcome {
	outcome := t.perform(ctx)
	logger := logging.GetLogger()
	logger.Debug().
		Str("method", t.method).
		Str("url", t.url).
		Str("range", t.RangeHeader()).
		Str("status", outcome.Status.String()).
		Int("status_code", outcome.StatusCode).
		Int64("bytes", outcome.BytesWritten).
		AnErr("error", outcome.Err).
		Msg("Transfer")
	return outcome
}

func (t *Transfer) perform(ctx context.Context) Outcome {
	outcome := Outcome{Status: StatusFailed, EffectiveURL: t.url, ContentLength: -1}
	if timeout := t.engine.opts.TotalTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, t.method, t.url, t.body)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to create request for %s: %w", t.url, err)
		return outcome
	}
	if rangeHeader := t.RangeHeader(); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.engine.do(req)
	if err != nil {
		outcome.Err = fmt.Errorf("error executing request for %s: %w", t.url, err)
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	outcome.Status = Classify(resp.StatusCode)
	outcome.ContentLength = resp.ContentLength
	outcome.AcceptsRanges = resp.Header.Get("Accept-Ranges") == "bytes"
	if resp.Request != nil && resp.Request.URL != nil {
		outcome.EffectiveURL = resp.Request.URL.String()
	}
	if !outcome.Successful() {
		return outcome
	}
	if t.hasRange && resp.StatusCode == http.StatusOK {
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("%w: %s for %s", ErrRangeIgnored, t.RangeHeader(), t.url)
		return outcome
	}
	if t.method == http.MethodHead || t.target == nil {
		return outcome
	}

	n, err := io.Copy(t.target, resp.Body)
	outcome.BytesWritten = n
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("error reading response for %s: %w", t.url, err)
		return outcome
	}
	if t.expected >= 0 && n != t.expected {
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("%w: got %d bytes instead of %d for %s", ErrShortBody, n, t.expected, t.url)
	}
	return outcome
}
