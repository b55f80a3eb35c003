package download

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/fetchkit/pfetch/pkg/client"
)

// SinglePartialPath is where a single-stream download accumulates bytes before it is verified
// and moved onto dest.
func SinglePartialPath(dest string) string {
	return dest + ".partial"
}

// streamJob is a prepared single-stream download. transfer is nil when the partial file already
// holds the whole resource.
type streamJob struct {
	req      Request
	logger   zerolog.Logger
	start    time.Time
	probe    ProbeResult
	partial  string
	file     *os.File
	transfer *client.Transfer
}

// DownloadSingle fetches req.URL as one stream. When the server supports ranges and overwrite is
// off, an existing partial file is resumed from its current length.
func (d *Downloader) DownloadSingle(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	logger := d.runLogger(req)
	defer func() { d.record("single", start, result, err) }()

	job, result, err := d.prepareStream(ctx, logger, req)
	if err != nil || job == nil {
		return result, err
	}
	var outcome *client.Outcome
	if job.transfer != nil {
		d.progress(logger, "Downloading %s", req.Dest)
		o := job.transfer.Execute(ctx)
		outcome = &o
	}
	return d.finishStream(job, outcome, result)
}

// prepareStream probes req and opens its partial file. It returns a nil job when the destination
// is already complete.
func (d *Downloader) prepareStream(ctx context.Context, logger zerolog.Logger, req Request) (*streamJob, Result, error) {
	start := time.Now()
	result := Result{URL: req.URL, Dest: req.Dest}
	probe, err := d.resolve(ctx, logger, req.URL)
	if err != nil {
		return nil, result, err
	}
	result.EffectiveURL = probe.EffectiveURL

	overwrite := d.overwrite(req)
	if existing := partialLength(req.Dest); !overwrite && existing >= probe.Size {
		removed := removeLeftovers(req.Dest)
		logger.Info().Int("removed_partials", removed).Msg("Already complete")
		d.progress(logger, "%s is already complete", req.Dest)
		result.Size = existing
		result.Skipped = true
		return nil, result, nil
	}

	job := &streamJob{
		req:     req,
		logger:  logger,
		start:   start,
		probe:   probe,
		partial: SinglePartialPath(req.Dest),
	}
	var offset int64
	if !overwrite && probe.AcceptsRanges {
		if length := partialLength(job.partial); length > 0 && length <= probe.Size {
			offset = length
		}
	}
	if offset == probe.Size && offset > 0 {
		logger.Debug().Int64("offset", offset).Msg("Partial already complete")
		return job, result, nil
	}

	job.file, err = openPartial(job.partial, offset > 0)
	if err != nil {
		return nil, result, err
	}
	opts := []client.TransferOption{
		client.WithTarget(job.file),
		client.WithExpectedLength(probe.Size - offset),
	}
	if offset > 0 {
		logger.Info().Str("offset", humanize.Bytes(uint64(offset))).Msg("Resume")
		opts = append(opts, client.WithRangeFrom(offset))
	}
	job.transfer = d.engine.NewTransfer(probe.EffectiveURL, opts...)
	return job, result, nil
}

// finishStream classifies the outcome of a prepared job, verifies the partial against the probed
// size and moves it onto the destination. outcome is nil when no transfer was needed.
func (d *Downloader) finishStream(job *streamJob, outcome *client.Outcome, result Result) (Result, error) {
	var closeErr error
	if job.file != nil {
		closeErr = job.file.Close()
	}
	if outcome != nil {
		result.Transfers = 1
		d.opts.Metrics.ObserveTransfer(*outcome)
		if !outcome.Successful() {
			return result, &TransferError{
				URL:        job.probe.EffectiveURL,
				Dest:       job.req.Dest,
				Kind:       kindOf(*outcome),
				StatusCode: outcome.StatusCode,
				Err:        outcome.Err,
			}
		}
	}
	if closeErr != nil {
		return result, fmt.Errorf("failed to close %s: %w", job.partial, closeErr)
	}

	size := partialLength(job.partial)
	if size != job.probe.Size {
		return result, &SizeMismatchError{Dest: job.req.Dest, Expected: job.probe.Size, Actual: size}
	}
	if err := replaceFile(job.partial, job.req.Dest); err != nil {
		return result, err
	}
	result.Size = size
	logComplete(job.logger, size, time.Since(job.start))
	d.progress(job.logger, "Downloaded %s (%s)", job.req.Dest, humanize.Bytes(uint64(size)))
	return result, nil
}
