package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the release build with -ldflags.
var version = "devel"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bpp version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bpp", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
