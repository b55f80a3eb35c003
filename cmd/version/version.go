package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fetchkit/pfetch/pkg/version"
)

const VersionCMDName = "version"

func GetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   VersionCMDName,
		Short: "print version and build information",
		Long:  "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pfetch Version %s - Build Time %s\n", version.GetVersion(), version.BuildTime)
		},
	}
}
