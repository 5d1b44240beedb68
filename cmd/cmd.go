// Package cmd implements the s3thumbs command.
//
// It is in a sub package so its internals can be re-used by the
// subcommand packages.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/version"
)

var showVersion bool

// Root is the main s3thumbs command.
var Root = &cobra.Command{
	Use:   "s3thumbs",
	Short: "Serve resized image thumbnails from an S3-compatible store - " + version.Version,
	Long: `
S3thumbs is an HTTP image-thumbnail service backed by an S3-compatible
object store. Requests for a derived bucket return a resized variant of
the source image; on a miss the variant is computed, uploaded to the
derived bucket with a parent-etag binding and streamed back. Conditional
revalidation (If-None-Match) and source-driven invalidation are built in.
`,
	Run: func(command *cobra.Command, args []string) {
		if showVersion {
			ShowVersion()
			os.Exit(0)
		}
		_ = command.Usage()
	},
}

func init() {
	Root.Flags().BoolVarP(&showVersion, "version", "V", false, "Print the version number")
}

// ShowVersion prints the version to stdout.
func ShowVersion() {
	fmt.Printf("s3thumbs %s\n", version.Version)
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// InitLogging configures the standard logrus logger from the settings.
func InitLogging(settings config.AppSettings) {
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logrus.Warnf("unknown log level %q, using info", settings.LogLevel)
	}
	logrus.SetLevel(level)
	if settings.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
