package client

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fetchkit/pfetch/pkg/logging"
	"github.com/fetchkit/pfetch/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc
)

// DefaultHeaders is the fixed header set sent with every request.
var DefaultHeaders = map[string]string{
	"DNT": "1",
}

// Options configures an Engine. It is a plain value; an Engine never mutates it.
type Options struct {
	ConnectTimeout time.Duration
	// TotalTimeout bounds a single transfer from dial to the last body byte.
	TotalTimeout time.Duration
	MaxRetries   int
	VerifyTLS    bool
	Jar          http.CookieJar
	Headers      map[string]string
	// Transport replaces the default network transport. Used by tests.
	Transport http.RoundTripper
}

// Engine executes HTTP transfers. It is safe for concurrent use by many transfers.
type Engine struct {
	client *http.Client
	opts   Options
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("pfetch/%s", version.GetVersion()))
	return t.Transport.RoundTrip(req)
}

// NewEngine returns an Engine whose client follows redirects, retries connection errors and 5xx
// responses with jittered backoff, and applies opts.Headers on top of DefaultHeaders.
func NewEngine(opts Options) *Engine {
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ExpectContinueTimeout: 1 * time.Second,
			DisableCompression:    true,
			// #nosec G402 -- verification is opt-in via --verify-tls
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifyTLS},
		}
	}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     &UserAgentTransport{Transport: base},
			CheckRedirect: checkRedirectFunc,
			Jar:           opts.Jar,
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      backoffFunc,
		ErrorHandler: lastResponseErrorHandler,
	}

	return &Engine{client: retryClient.StandardClient(), opts: opts}
}

func (e *Engine) do(req *http.Request) (*http.Response, error) {
	for k, v := range DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range e.opts.Headers {
		req.Header.Set(k, v)
	}
	return e.client.Do(req)
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that adds a random jitter, since
// a chunked download retries many sibling ranges against the same host at once.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// lastResponseErrorHandler returns the final response once retries are exhausted so its status
// can be classified. Only a failure without any response is reported as an error.
func lastResponseErrorHandler(resp *http.Response, err error, numTries int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", numTries, err)
}

func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", req.Response.StatusCode).
		Msg("Redirect")
	return nil
}
