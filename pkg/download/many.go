package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fetchkit/pfetch/pkg/client"
	"github.com/fetchkit/pfetch/pkg/logging"
)

var ErrDuplicateDestination = errors.New("duplicate destination")

type FileResult struct {
	Result
	Err error
}

// DownloadMany downloads each request as a single stream. Probes run one after another; every
// transfer that is still needed then joins one batch and runs to a single barrier. A failing file
// never stops the others. The returned slice is in request order; the error is a *BatchError when
// any file failed.
func (d *Downloader) DownloadMany(ctx context.Context, reqs []Request) ([]FileResult, error) {
	seen := make(map[string]struct{}, len(reqs))
	for _, req := range reqs {
		if _, ok := seen[req.Dest]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDestination, req.Dest)
		}
		seen[req.Dest] = struct{}{}
	}

	results := make([]FileResult, len(reqs))
	jobs := make([]*streamJob, len(reqs))
	batch := client.NewBatch()
	defer batch.Close()

	var batched []int
	for i, req := range reqs {
		logger := d.runLogger(req)
		job, result, err := d.prepareStream(ctx, logger, req)
		results[i] = FileResult{Result: result, Err: err}
		if err != nil || job == nil {
			continue
		}
		jobs[i] = job
		if job.transfer == nil {
			continue
		}
		if err := batch.Add(job.transfer); err != nil {
			job.file.Close()
			jobs[i] = nil
			results[i].Err = err
			continue
		}
		batched = append(batched, i)
	}

	logger := logging.GetLogger()
	logger.Info().Int("files", len(reqs)).Int("transfers", batch.Len()).Msg("Dispatch")
	if d.opts.Progress != nil {
		d.opts.Progress(fmt.Sprintf("Downloading %d of %d files", len(batched), len(reqs)))
	}
	outcomes := make(map[int]*client.Outcome, len(batched))
	for k, outcome := range batch.Run(ctx) {
		outcomes[batched[k]] = &outcome
	}

	failures := make(map[string]error)
	for i, job := range jobs {
		if job != nil {
			results[i].Result, results[i].Err = d.finishStream(job, outcomes[i], results[i].Result)
		}
		start := time.Now()
		if job != nil {
			start = job.start
		}
		d.record("multifile", start, results[i].Result, results[i].Err)
		if err := results[i].Err; err != nil {
			logger.Error().Err(err).Str("url", reqs[i].URL).Str("dest", reqs[i].Dest).Msg("Failed")
			failures[reqs[i].Dest] = err
		}
	}
	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}
