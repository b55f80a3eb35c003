//go:build windows

package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// PIDFile records this process's pid in a file. There is no flock on windows, so runs sharing a
// --pid-file are not serialized.
type PIDFile struct {
	file *os.File
}

// NewPIDFile opens or creates path.
func NewPIDFile(path string) (*PIDFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file %s: %w", path, err)
	}
	return &PIDFile{file: file}, nil
}

// Acquire replaces the file contents with the current pid.
func (p *PIDFile) Acquire() error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	_, err := p.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	return err
}

// Release closes and removes the file.
func (p *PIDFile) Release() error {
	return errors.Join(p.file.Close(), os.Remove(p.file.Name()))
}
