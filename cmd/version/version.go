// Package version provides the version command.
package version

import (
	"github.com/spf13/cobra"

	"github.com/s3thumbs/s3thumbs/cmd"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "version",
	Short: "Show the version number",
	Run: func(command *cobra.Command, args []string) {
		cmd.ShowVersion()
	},
}
