package cli

import (
	"errors"
	"io"
	"net/http"

	"github.com/fetchkit/pfetch/pkg/client"
	"github.com/fetchkit/pfetch/pkg/config"
	"github.com/fetchkit/pfetch/pkg/download"
	"github.com/fetchkit/pfetch/pkg/metrics"
)

// Session is the wiring one command invocation needs: an engine built from the resolved config,
// a downloader reporting to a progress printer, and the side files (pid lock, cookie jar,
// metrics) that are settled by Close.
type Session struct {
	Config     config.Config
	Engine     *client.Engine
	Downloader *download.Downloader
	Metrics    *metrics.Recorder
	Progress   *ProgressPrinter

	jar         *client.FileJar
	pidFile     *PIDFile
	metricsFile string
}

type SessionOptions struct {
	PIDFile     string
	MetricsFile string
	// Output receives progress lines.
	Output io.Writer
}

func NewSession(cfg config.Config, opts SessionOptions) (*Session, error) {
	s := &Session{
		Config:      cfg,
		Metrics:     metrics.New(),
		Progress:    NewProgressPrinter(opts.Output),
		metricsFile: opts.MetricsFile,
	}

	if opts.PIDFile != "" {
		pidFile, err := NewPIDFile(opts.PIDFile)
		if err != nil {
			return nil, err
		}
		if err := pidFile.Acquire(); err != nil {
			return nil, err
		}
		s.pidFile = pidFile
	}

	var jar http.CookieJar
	if path := cfg.CookieJarPath(); path != "" {
		fileJar, err := client.OpenFileJar(path)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.jar = fileJar
		jar = fileJar
	}

	s.Engine = client.NewEngine(client.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		TotalTimeout:   cfg.Timeout,
		MaxRetries:     cfg.Retries,
		VerifyTLS:      cfg.VerifyTLS,
		Jar:            jar,
		Headers:        cfg.Headers,
	})
	s.Downloader = download.New(s.Engine, download.Options{
		ChunkSize: cfg.ChunkSize,
		Overwrite: cfg.Overwrite,
		Progress:  s.Progress.Print,
		Metrics:   s.Metrics,
	})
	return s, nil
}

// Close saves the cookie jar, writes the metrics file and releases the pid lock.
func (s *Session) Close() error {
	var errs []error
	if s.jar != nil {
		errs = append(errs, s.jar.Save())
	}
	errs = append(errs, s.Metrics.WriteFile(s.metricsFile))
	if s.pidFile != nil {
		errs = append(errs, s.pidFile.Release())
		s.pidFile = nil
	}
	return errors.Join(errs...)
}
