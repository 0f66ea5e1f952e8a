package cli

import (
	"fmt"
	"runtime"

	"github.com/fansync/fansync/internal/build"

	"github.com/spf13/cobra"
)

func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "FanSync version information",
		Long:  `Print the version information of FanSync`,
		Run: func(cmd *cobra.Command, args []string) {
			version()
		},
	}
}

func version() {
	fmt.Printf("FanSync v%s (Go version: %s)\n", build.Version, runtime.Version())
}
