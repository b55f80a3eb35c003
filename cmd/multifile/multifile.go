package multifile

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fetchkit/pfetch/pkg/cli"
	"github.com/fetchkit/pfetch/pkg/config"
	"github.com/fetchkit/pfetch/pkg/download"
	"github.com/fetchkit/pfetch/pkg/logging"
	"github.com/fetchkit/pfetch/pkg/optname"
)

const longDesc = `
'multifile' mode for pfetch takes a manifest file as input (can use '-' for stdin) and downloads all files listed in the manifest.

The manifest is either a newline-separated list of pairs of URLs and destination paths, separated by a space,
e.g.
https://example.com/file1.txt /tmp/file1.txt

or, for files ending in .yaml/.yml (or with --format yaml), a YAML list of entries:
- link: https://example.com/file1.txt
  op: /tmp/file1.txt

Every file is probed first, then all transfers that are still needed run concurrently. Each file is
resumed and verified independently and a failing file does not stop the others.
`

const multifileExamples = `
  pfetch multifile manifest.txt

  pfetch multifile manifest.yaml

  pfetch multifile - < manifest.txt

  cat multifile.txt | pfetch multifile -
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "multifile [flags] <manifest-file>",
		Short:   "download files from a manifest file in parallel",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runMultifileCMD,
		Example: multifileExamples,
	}
	cmd.Flags().String(optname.ManifestFormat, formatAuto, "Manifest format: auto, text or yaml")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runMultifileCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	manifestPath := args[0]

	formatFlag, err := cmd.Flags().GetString(optname.ManifestFormat)
	if err != nil {
		return err
	}
	format, err := manifestFormat(formatFlag, manifestPath)
	if err != nil {
		return err
	}
	file, err := manifestFile(manifestPath)
	if err != nil {
		return err
	}
	defer file.Close()
	reqs, err := parseManifest(file, format)
	if err != nil {
		return fmt.Errorf("error processing manifest file %s: %w", manifestPath, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	session, err := cli.NewSession(cfg, cli.SessionOptions{
		PIDFile:     viper.GetString(optname.PIDFile),
		MetricsFile: viper.GetString(optname.MetricsFile),
		Output:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	err = multifileExecute(cmd.Context(), session, reqs)
	if closeErr := session.Close(); closeErr != nil {
		logger := logging.GetLogger()
		logger.Warn().Err(closeErr).Msg("Cleanup")
	}
	return err
}

func multifileExecute(ctx context.Context, session *cli.Session, reqs []download.Request) error {
	logger := logging.GetLogger()
	for _, req := range reqs {
		logger.Debug().Str("url", req.URL).Str("dest", req.Dest).Msg("Queueing Download")
	}

	start := time.Now()
	results, err := session.Downloader.DownloadMany(ctx, reqs)
	for _, result := range results {
		if result.Err != nil {
			session.Progress.Error(fmt.Sprintf("%s: %v", result.Dest, result.Err))
		}
	}
	aggregateAndPrintMetrics(time.Since(start), results)
	return err
}

func aggregateAndPrintMetrics(elapsedTime time.Duration, results []download.FileResult) {
	var totalFileSize int64
	var downloaded, skipped, failed int
	for _, result := range results {
		switch {
		case result.Err != nil:
			failed++
		case result.Skipped:
			skipped++
		default:
			downloaded++
			totalFileSize += result.Size
		}
	}
	throughput := float64(totalFileSize) / elapsedTime.Seconds()
	logger := logging.GetLogger()
	logger.Info().
		Int("file_count", len(results)).
		Int("downloaded", downloaded).
		Int("skipped", skipped).
		Int("failed", failed).
		Str("total_bytes_downloaded", humanize.Bytes(uint64(totalFileSize))).
		Str("throughput", fmt.Sprintf("%s/s", humanize.Bytes(uint64(throughput)))).
		Str("elapsed_time", fmt.Sprintf("%.3fs", elapsedTime.Seconds())).
		Msg("Metrics")
}
