package fetch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fetchkit/pfetch/pkg/cli"
	"github.com/fetchkit/pfetch/pkg/config"
	"github.com/fetchkit/pfetch/pkg/download"
	"github.com/fetchkit/pfetch/pkg/logging"
	"github.com/fetchkit/pfetch/pkg/optname"
)

const longDesc = `
'fetch' requests a single URL and writes the response body to stdout instead of a file. Nothing is
resumed or verified; the body is held in memory, so this is meant for small responses such as API
listings or login forms.

With --data the fields are sent as an urlencoded POST. With --json the body is decoded as JSON and
printed indented. A 403 response is reported as forbidden, any other failure as a general error.
`

const fetchExamples = `
  pfetch fetch https://example.com/api/files

  pfetch fetch --json -H 'Authorization: Bearer abc' https://example.com/api/files

  pfetch fetch -d user=alice -d password=secret --cookie-dir ~/.pfetch --cookie-file jar.json https://example.com/login
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fetch [flags] <url>",
		Short:   "fetch a URL into memory and print the body",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runFetchCMD,
		Example: fetchExamples,
	}
	cmd.Flags().StringArrayP(optname.FormData, "d", nil, "Form field as key=value, sent as an urlencoded POST; may be repeated")
	cmd.Flags().Bool(optname.JSON, false, "Decode the response as JSON and print it indented")
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runFetchCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	rawURL := args[0]

	fields, err := cmd.Flags().GetStringArray(optname.FormData)
	if err != nil {
		return err
	}
	form, err := parseFormData(fields)
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool(optname.JSON)
	if err != nil {
		return err
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

	err = fetchExecute(cmd, session, rawURL, form, asJSON)
	if closeErr := session.Close(); closeErr != nil {
		logger := logging.GetLogger()
		logger.Warn().Err(closeErr).Msg("Cleanup")
	}
	return err
}

func fetchExecute(cmd *cobra.Command, session *cli.Session, rawURL string, form url.Values, asJSON bool) error {
	logger := logging.GetLogger()
	var body []byte
	var effectiveURL string
	var err error
	switch {
	case asJSON && len(form) > 0:
		return fmt.Errorf("--%s cannot be combined with --%s", optname.JSON, optname.FormData)
	case asJSON:
		var doc any
		effectiveURL, err = download.FetchJSON(cmd.Context(), session.Engine, rawURL, &doc)
		if err == nil {
			body, err = json.MarshalIndent(doc, "", "  ")
			body = append(body, '\n')
		}
	default:
		body, effectiveURL, err = download.Post(cmd.Context(), session.Engine, rawURL, form)
	}
	if err != nil {
		session.Progress.Error(err.Error())
		return err
	}
	logger.Debug().Str("url", rawURL).Str("effective_url", effectiveURL).Int("bytes", len(body)).Msg("Fetched")
	_, err = cmd.OutOrStdout().Write(body)
	return err
}

func parseFormData(fields []string) (url.Values, error) {
	form := url.Values{}
	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid form field %q, expected key=value", field)
		}
		form.Add(key, value)
	}
	return form, nil
}
