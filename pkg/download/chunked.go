package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/fetchkit/pfetch/pkg/client"
)

// strayMargin is how many indices past the planned chunk count are swept for leftover partials.
const strayMargin = 10

// DownloadChunked fetches req.URL as concurrently transferred byte ranges, reassembles them in
// index order and verifies the length. The destination only appears under its final name after
// verification; on failure the chunk partials stay on disk for the next run to resume.
func (d *Downloader) DownloadChunked(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	logger := d.runLogger(req)
	defer func() { d.record("chunked", start, result, err) }()

	result = Result{URL: req.URL, Dest: req.Dest}
	budget := d.chunkSize(req)
	if budget <= 0 {
		return result, fmt.Errorf("%w: %d", ErrInvalidChunkSize, budget)
	}
	overwrite := d.overwrite(req)

	probe, err := d.resolve(ctx, logger, req.URL)
	if err != nil {
		return result, err
	}
	result.EffectiveURL = probe.EffectiveURL

	if existing := partialLength(req.Dest); !overwrite && existing >= probe.Size {
		removed := sweepPartials(req.Dest, ChunkCount(probe.Size, budget)+strayMargin)
		logger.Info().Int("removed_partials", removed).Msg("Already complete")
		d.progress(logger, "%s is already complete", req.Dest)
		result.Size = existing
		result.Skipped = true
		return result, nil
	}

	tasks, err := Plan(probe.Size, budget, req.Dest, overwrite, probe.AcceptsRanges)
	if err != nil {
		return result, err
	}
	d.opts.Metrics.ObservePlan(len(tasks))
	logger.Info().
		Int("chunks", len(tasks)).
		Str("size", humanize.Bytes(uint64(probe.Size))).
		Str("chunk_size", humanize.Bytes(uint64(budget))).
		Msg("Plan")
	if !probe.AcceptsRanges && len(tasks) > 1 {
		logger.Warn().Msg("Server does not advertise range support")
	}

	result.Transfers, err = d.dispatchChunks(ctx, logger, req.Dest, probe, tasks)
	if err != nil {
		return result, err
	}

	d.progress(logger, "Reassembling %d chunks into %s", len(tasks), req.Dest)
	result.Size, err = assemble(req.Dest, tasks, probe.Size)
	if err != nil {
		return result, err
	}
	for _, task := range tasks {
		if err := os.Remove(task.PartialPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("partial", task.PartialPath).Msg("Cleanup")
		}
	}
	logComplete(logger, result.Size, time.Since(start))
	d.progress(logger, "Downloaded %s (%s)", req.Dest, humanize.Bytes(uint64(result.Size)))
	return result, nil
}

// dispatchChunks transfers every task that is not already complete, all at once, and waits for
// all of them. It returns the number of transfers dispatched.
func (d *Downloader) dispatchChunks(ctx context.Context, logger zerolog.Logger, dest string, probe ProbeResult, tasks []ChunkTask) (int, error) {
	batch := client.NewBatch()
	defer batch.Close()

	var files []*os.File
	closeFiles := func() error {
		var errs []error
		for _, f := range files {
			errs = append(errs, f.Close())
		}
		files = nil
		return errors.Join(errs...)
	}
	defer closeFiles() //nolint:errcheck

	pending := make([]ChunkTask, 0, len(tasks))
	for _, task := range tasks {
		chunkLogger := logger.With().Int("index", task.Index).Str("state", task.State.String()).Logger()
		if task.State == TaskComplete {
			chunkLogger.Debug().Msg("Chunk")
			continue
		}
		file, err := openPartial(task.PartialPath, task.State == TaskResume)
		if err != nil {
			return 0, err
		}
		files = append(files, file)

		opts := []client.TransferOption{
			client.WithTarget(file),
			client.WithExpectedLength(task.Remaining()),
		}
		from := task.Start + task.ResumeOffset
		if from != 0 || task.End != probe.Size {
			opts = append(opts, client.WithRange(from, task.End-1))
		}
		transfer := d.engine.NewTransfer(probe.EffectiveURL, opts...)
		if err := batch.Add(transfer); err != nil {
			return 0, err
		}
		chunkLogger.Debug().Str("range", transfer.RangeHeader()).Msg("Chunk")
		pending = append(pending, task)
	}

	d.progress(logger, "Downloading %d of %d chunks", len(pending), len(tasks))
	outcomes := batch.Run(ctx)
	closeErr := closeFiles()

	var failed []*ChunkFailure
	for i, outcome := range outcomes {
		task := pending[i]
		d.opts.Metrics.ObserveTransfer(outcome)
		if outcome.Successful() {
			continue
		}
		failure := &ChunkFailure{
			Index: task.Index,
			TransferError: &TransferError{
				URL:        probe.EffectiveURL,
				Dest:       task.PartialPath,
				Kind:       kindOf(outcome),
				StatusCode: outcome.StatusCode,
				Err:        outcome.Err,
			},
		}
		logger.Warn().Int("index", task.Index).Err(failure.TransferError).Msg("Chunk failed")
		failed = append(failed, failure)
	}
	if len(failed) > 0 {
		return len(pending), &ChunkBatchError{Dest: dest, Total: len(pending), Failed: failed}
	}
	if closeErr != nil {
		return len(pending), fmt.Errorf("failed to close partial files: %w", closeErr)
	}
	return len(pending), nil
}

// assemble concatenates the chunk partials in index order into dest and checks the result
// against expected. Each partial contributes at most its range length. dest is replaced only
// when the length matches; on mismatch no destination is left behind and the partials are kept.
func assemble(dest string, tasks []ChunkTask, expected int64) (int64, error) {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("failed to remove existing %s: %w", dest, err)
	}
	tmp := assemblingPath(dest)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	for _, task := range tasks {
		if err := appendChunk(out, task); err != nil {
			out.Close()
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	size := partialLength(tmp)
	if size != expected {
		os.Remove(tmp)
		return size, &SizeMismatchError{Dest: dest, Expected: expected, Actual: size}
	}
	if err := replaceFile(tmp, dest); err != nil {
		return size, err
	}
	return size, nil
}

func appendChunk(out io.Writer, task ChunkTask) error {
	in, err := os.Open(task.PartialPath)
	if err != nil {
		return fmt.Errorf("failed to open chunk %d: %w", task.Index, err)
	}
	defer in.Close()
	if _, err := io.Copy(out, io.LimitReader(in, task.Len())); err != nil {
		return fmt.Errorf("failed to append chunk %d: %w", task.Index, err)
	}
	return nil
}

func assemblingPath(dest string) string {
	return dest + ".assembling"
}

// sweepPartials removes dest.1.partial through dest.<upTo>.partial, skipping gaps, along with
// any single-stream partial or reassembly temp file of dest. It returns how many were removed.
func sweepPartials(dest string, upTo int) int {
	removed := removeLeftovers(dest)
	for i := 1; i <= upTo; i++ {
		if err := os.Remove(PartialPath(dest, i)); err == nil {
			removed++
		}
	}
	return removed
}

// removeLeftovers removes the single-stream partial and the reassembly temp file of dest.
func removeLeftovers(dest string) int {
	removed := 0
	for _, path := range []string{SinglePartialPath(dest), assemblingPath(dest)} {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed
}
