package main

import (
	"os"

	"github.com/fetchkit/pfetch/cmd"
	"github.com/fetchkit/pfetch/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
