package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/fetchkit/pfetch/pkg/client"
)

// Fetch GETs rawURL and returns the whole body in memory together with the URL that finally
// answered. A failed fetch is a *TransferError classified as forbidden or general.
func Fetch(ctx context.Context, engine *client.Engine, rawURL string) ([]byte, string, error) {
	return fetch(ctx, engine, rawURL)
}

// Post sends form url-encoded to rawURL and returns the response body. An empty form is sent as
// a plain GET.
func Post(ctx context.Context, engine *client.Engine, rawURL string, form url.Values) ([]byte, string, error) {
	if len(form) == 0 {
		return fetch(ctx, engine, rawURL)
	}
	return fetch(ctx, engine, rawURL,
		client.WithMethod(http.MethodPost),
		client.WithBody(strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"),
	)
}

// FetchJSON GETs rawURL and decodes the body into v. It returns the effective URL.
func FetchJSON(ctx context.Context, engine *client.Engine, rawURL string, v any) (string, error) {
	body, effectiveURL, err := fetch(ctx, engine, rawURL, client.WithHeader("Accept", "application/json"))
	if err != nil {
		return effectiveURL, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return effectiveURL, fmt.Errorf("failed to decode JSON from %s: %w", effectiveURL, err)
	}
	return effectiveURL, nil
}

func fetch(ctx context.Context, engine *client.Engine, rawURL string, opts ...client.TransferOption) ([]byte, string, error) {
	buf := new(bytes.Buffer)
	outcome := engine.NewTransfer(rawURL, append(opts, client.WithTarget(buf))...).Execute(ctx)
	if !outcome.Successful() {
		return nil, outcome.EffectiveURL, &TransferError{
			URL:        rawURL,
			Kind:       kindOf(outcome),
			StatusCode: outcome.StatusCode,
			Err:        outcome.Err,
		}
	}
	return buf.Bytes(), outcome.EffectiveURL, nil
}
