package root

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fetchkit/pfetch/pkg/cli"
	"github.com/fetchkit/pfetch/pkg/config"
	"github.com/fetchkit/pfetch/pkg/download"
	"github.com/fetchkit/pfetch/pkg/optname"
)

const rootLongDesc = `
pfetch

pfetch is a resilient HTTP downloader. It fetches a resource either as one stream or, with --chunked, as
many byte-range chunks transferred concurrently and reassembled in order.

Every download can be resumed. A single stream accumulates in <dest>.partial and chunk N of a chunked
download in <dest>.N.partial; rerunning the same command picks up where the previous run stopped, as long
as the server supports range requests and --overwrite is not set.

The destination only appears under its final name once its length matches the Content-Length reported by
the server. A destination that is already complete is left alone.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pfetch [flags] <url> <dest>",
		Short: "pfetch",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Args: cobra.ExactArgs(2),
		Example: `  pfetch https://example.com/file.tar.gz file.tar.gz
  pfetch --chunked --chunk-size 100MiB https://example.com/model.bin model.bin`,
	}
	cmd.Flags().BoolP(optname.Chunked, "c", false, "Download as concurrent byte-range chunks")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err == nil {
		err = viper.BindPFlag(optname.Chunked, cmd.Flags().Lookup(optname.Chunked))
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	urlString := args[0]
	dest := args[1]
	chunked := viper.GetBool(optname.Chunked)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Info().Str("url", urlString).
		Str("dest", dest).
		Bool("chunked", chunked).
		Msg("Initiating")

	session, err := cli.NewSession(cfg, cli.SessionOptions{
		PIDFile:     viper.GetString(optname.PIDFile),
		MetricsFile: viper.GetString(optname.MetricsFile),
		Output:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	err = rootExecute(cmd.Context(), session, download.Request{URL: urlString, Dest: dest}, chunked)
	if closeErr := session.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("Cleanup")
	}
	return err
}

// rootExecute runs one download in the selected mode and reports a failure on the progress
// printer before returning it.
func rootExecute(ctx context.Context, session *cli.Session, req download.Request, chunked bool) error {
	var err error
	if chunked {
		_, err = session.Downloader.DownloadChunked(ctx, req)
	} else {
		_, err = session.Downloader.DownloadSingle(ctx, req)
	}
	if err != nil {
		session.Progress.Error(err.Error())
		return err
	}
	return nil
}
