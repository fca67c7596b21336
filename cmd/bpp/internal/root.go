package internal

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bpp",
	Short: "bpp scaffolds projects for the bpp build engine",
	Long: `bpp scaffolds projects for the bpp build engine. A project's build
tool is its own compiled build.go; this command only creates the
initial skeleton.`,
}

// Execute runs the root command; subcommands register themselves from
// their init functions. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}
