package download

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fetchkit/pfetch/pkg/client"
)

// ProbeResult is what a metadata-only request learned about a resource. Size, AcceptsRanges and
// EffectiveURL are only meaningful when Status is client.StatusSuccess.
type ProbeResult struct {
	Status        client.Status
	StatusCode    int
	Size          int64
	AcceptsRanges bool
	EffectiveURL  string
}

// Probe issues a HEAD request for url, following redirects.
func Probe(ctx context.Context, engine *client.Engine, url string) (ProbeResult, error) {
	outcome := engine.NewTransfer(url, client.WithMethod(http.MethodHead)).Execute(ctx)
	result := ProbeResult{Status: outcome.Status, StatusCode: outcome.StatusCode, Size: -1}
	if !outcome.Successful() {
		return result, &ProbeError{URL: url, Kind: kindOf(outcome), StatusCode: outcome.StatusCode, Err: outcome.Err}
	}
	if outcome.ContentLength < 0 {
		return result, &ProbeError{URL: url, Kind: KindGeneral, StatusCode: outcome.StatusCode, Err: ErrUnknownLength}
	}
	result.Size = outcome.ContentLength
	result.AcceptsRanges = outcome.AcceptsRanges
	result.EffectiveURL = outcome.EffectiveURL
	return result, nil
}

// resolve probes url and, when the server redirected, probes the effective URL once more. The
// second result replaces the first.
func (d *Downloader) resolve(ctx context.Context, logger zerolog.Logger, url string) (ProbeResult, error) {
	result, err := Probe(ctx, d.engine, url)
	if err != nil {
		return result, err
	}
	if result.EffectiveURL == "" || result.EffectiveURL == url {
		result.EffectiveURL = url
		logger.Debug().Int64("size", result.Size).Bool("accepts_ranges", result.AcceptsRanges).Msg("Probe")
		return result, nil
	}

	logger.Info().Str("redirect_url", result.EffectiveURL).Msg("Redirect")
	effective := result.EffectiveURL
	result, err = Probe(ctx, d.engine, effective)
	if err != nil {
		return result, err
	}
	// the second probe may redirect again; transfers keep using the URL it was sent to
	result.EffectiveURL = effective
	logger.Debug().Int64("size", result.Size).Bool("accepts_ranges", result.AcceptsRanges).Msg("Probe")
	return result, nil
}
