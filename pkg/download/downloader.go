package download

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fetchkit/pfetch/pkg/client"
	"github.com/fetchkit/pfetch/pkg/logging"
	"github.com/fetchkit/pfetch/pkg/metrics"
)

const DefaultChunkSize = 500 * humanize.MiByte

type Options struct {
	// ChunkSize is used for requests that do not set their own. Zero means DefaultChunkSize.
	ChunkSize int64
	// Overwrite applies to every request in addition to Request.Overwrite.
	Overwrite bool
	// Progress receives human readable status lines. May be nil.
	Progress func(string)
	Metrics  *metrics.Recorder
}

// Request describes one resource and where it goes. It is not modified by a download.
type Request struct {
	URL       string
	Dest      string
	Overwrite bool
	ChunkSize int64
}

type Result struct {
	URL          string
	Dest         string
	EffectiveURL string
	Size         int64
	// Transfers is the number of data transfers that were dispatched.
	Transfers int
	// Skipped is set when the destination was already complete and nothing was transferred.
	Skipped bool
}

type Downloader struct {
	engine *client.Engine
	opts   Options
}

func New(engine *client.Engine, opts Options) *Downloader {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Downloader{engine: engine, opts: opts}
}

func (d *Downloader) chunkSize(req Request) int64 {
	if req.ChunkSize != 0 {
		return req.ChunkSize
	}
	return d.opts.ChunkSize
}

func (d *Downloader) overwrite(req Request) bool {
	return req.Overwrite || d.opts.Overwrite
}

func (d *Downloader) runLogger(req Request) zerolog.Logger {
	logger := logging.GetLogger()
	return logger.With().
		Str("run_id", uuid.NewString()).
		Str("url", req.URL).
		Str("dest", req.Dest).
		Logger()
}

func (d *Downloader) progress(logger zerolog.Logger, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Debug().Str("progress", msg).Msg("Progress")
	if d.opts.Progress != nil {
		d.opts.Progress(msg)
	}
}

func (d *Downloader) record(mode string, start time.Time, result Result, err error) {
	d.opts.Metrics.ObserveDownload(mode, resultLabel(result, err), time.Since(start))
}

func resultLabel(result Result, err error) string {
	switch {
	case err == nil && result.Skipped:
		return "skipped"
	case err == nil:
		return "success"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrSizeMismatch):
		return "size_mismatch"
	default:
		return "failed"
	}
}

func logComplete(logger zerolog.Logger, size int64, elapsed time.Duration) {
	throughput := "n/a"
	if elapsed > 0 {
		throughput = fmt.Sprintf("%s/s", humanize.Bytes(uint64(float64(size)/elapsed.Seconds())))
	}
	logger.Info().
		Str("size", humanize.Bytes(uint64(size))).
		Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Str("throughput", throughput).
		Msg("Complete")
}

func openPartial(path string, resume bool) (*os.File, error) {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open partial file %s: %w", path, err)
	}
	return file, nil
}

// replaceFile moves src onto dst, removing any existing dst first.
func replaceFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}
