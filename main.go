package main

import (
	"fmt"
	"os"

	"github.com/fansync/fansync/internal/app"
	"github.com/fansync/fansync/internal/cli"
)

func main() {
	rootCmd := app.FanSync()
	rootCmd.AddCommand(cli.Version())
	rootCmd.AddCommand(cli.CheckConfig())
	rootCmd.AddCommand(cli.DefaultConfigCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
