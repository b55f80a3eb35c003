//go:build !windows

package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/fetchkit/pfetch/pkg/logging"
)

// PIDFile holds an exclusive flock on a file containing this process's pid, so that pfetch runs
// sharing a --pid-file take turns instead of writing the same partial files at once.
type PIDFile struct {
	file *os.File
	fd   int
}

// NewPIDFile opens or creates path. The lock is not taken until Acquire.
func NewPIDFile(path string) (*PIDFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file %s: %w", path, err)
	}
	return &PIDFile{file: file, fd: int(file.Fd())}, nil
}

// Acquire takes the lock, waiting for another holder to release it, then replaces the file
// contents with the current pid.
func (p *PIDFile) Acquire() error {
	logger := logging.GetLogger().With().Str("pid_file", p.file.Name()).Logger()
	err := syscall.Flock(p.fd, syscall.LOCK_EX|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		holder, _ := os.ReadFile(p.file.Name())
		logger.Warn().
			Str("holder", string(holder)).
			Msg("Waiting on Lock")
		err = syscall.Flock(p.fd, syscall.LOCK_EX)
	}
	if err != nil {
		return fmt.Errorf("failed to lock pid file %s: %w", p.file.Name(), err)
	}
	logger.Debug().Msg("Lock acquired")

	if err := p.file.Truncate(0); err != nil {
		return err
	}
	if _, err := p.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return err
	}
	return p.file.Sync()
}

// Release drops the lock and removes the file.
func (p *PIDFile) Release() error {
	return errors.Join(
		syscall.Flock(p.fd, syscall.LOCK_UN),
		p.file.Close(),
		os.Remove(p.file.Name()),
	)
}
