package app

import (
	"github.com/fansync/fansync/internal/config"

	"github.com/spf13/cobra"
)

func FanSync() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "",
		Short: "FanSync",
		Long:  "FanSync – realtime client daemon for Fanimation cloud-connected fans and lights",
		Run: func(cmd *cobra.Command, args []string) {
			Run(cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.json", "path to config file")
	config.DefineFlags(cmd)
	return cmd
}
