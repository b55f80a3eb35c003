package download

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fetchkit/pfetch/pkg/client"
)

var (
	ErrProbeFailed      = errors.New("probe failed")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrChunkBatchFailed = errors.New("chunk batch failed")
	ErrSizeMismatch     = errors.New("size mismatch")

	ErrForbidden = errors.New("forbidden")
	ErrGeneral   = errors.New("general failure")

	ErrUnknownLength    = errors.New("server did not report a content length")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Kind distinguishes a 403 from every other failure.
type Kind int

const (
	KindGeneral Kind = iota
	KindForbidden
)

func (k Kind) String() string {
	if k == KindForbidden {
		return "forbidden"
	}
	return "general"
}

func (k Kind) sentinel() error {
	if k == KindForbidden {
		return ErrForbidden
	}
	return ErrGeneral
}

func kindOf(outcome client.Outcome) Kind {
	if outcome.Forbidden() {
		return KindForbidden
	}
	return KindGeneral
}

type ProbeError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProbeError) Error() string {
	return describe("probe of "+e.URL, e.Kind, e.StatusCode, e.Err)
}

func (e *ProbeError) Is(target error) bool {
	return target == ErrProbeFailed || target == e.Kind.sentinel()
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// TransferError reports a data-carrying transfer (whole file or one chunk) that did not succeed.
type TransferError struct {
	URL string
	// Dest is empty for fetches held in memory.
	Dest       string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	what := fmt.Sprintf("transfer of %s", e.URL)
	if e.Dest != "" {
		what += " to " + e.Dest
	}
	return describe(what, e.Kind, e.StatusCode, e.Err)
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed || target == e.Kind.sentinel()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ChunkBatchError lists the chunks of one dispatch that failed. Partial files of every chunk are
// left on disk.
type ChunkBatchError struct {
	Dest   string
	Total  int
	Failed []*ChunkFailure
}

type ChunkFailure struct {
	Index int
	*TransferError
}

func (e *ChunkBatchError) Error() string {
	indices := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		indices = append(indices, fmt.Sprintf("%d", f.Index))
	}
	return fmt.Sprintf("%d of %d chunks of %s failed (chunks %s)", len(e.Failed), e.Total, e.Dest, strings.Join(indices, ", "))
}

func (e *ChunkBatchError) Is(target error) bool {
	return target == ErrChunkBatchFailed
}

func (e *ChunkBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.TransferError)
	}
	return errs
}

type SizeMismatchError struct {
	Dest     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch for %s: expected %d bytes, got %d", e.Dest, e.Expected, e.Actual)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// BatchError collects the per-file failures of DownloadMany.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	dests := make([]string, 0, len(e.Failures))
	for dest := range e.Failures {
		dests = append(dests, dest)
	}
	slices.Sort(dests)
	return fmt.Sprintf("%d file(s) failed: %s", len(dests), strings.Join(dests, ", "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

func describe(what string, kind Kind, statusCode int, err error) string {
	msg := fmt.Sprintf("%s failed (%s", what, kind)
	if statusCode != 0 {
		msg += fmt.Sprintf(", status %d", statusCode)
	}
	msg += ")"
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}
