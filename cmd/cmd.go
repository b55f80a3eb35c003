package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fetchkit/pfetch/cmd/fetch"
	"github.com/fetchkit/pfetch/cmd/multifile"
	"github.com/fetchkit/pfetch/cmd/root"
	"github.com/fetchkit/pfetch/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(fetch.GetCommand())
	rootCMD.AddCommand(multifile.GetCommand())
	rootCMD.AddCommand(version.GetCommand())
	return rootCMD
}
