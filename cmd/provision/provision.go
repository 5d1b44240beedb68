// Package provision implements the provision command.
package provision

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/s3thumbs/s3thumbs/buckets"
	"github.com/s3thumbs/s3thumbs/cmd"
	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/storage/s3"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "provision",
	Short: "Create the configured buckets with their TTL rules and exit",
	Long: `
Provision runs the same one-shot bucket creation that serve performs at
startup and prints the per-bucket summary as JSON. The exit code is
non-zero when any bucket could not be created. Creation is never
retried.
`,
	RunE: func(command *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		cmd.InitLogging(settings)

		bucketsMap, err := config.DeriveBucketsMap(settings)
		if err != nil {
			return err
		}
		store, err := s3.New(settings.S3)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := logrus.WithField("source", "provision")
		info := buckets.NewProvisioner(store, bucketsMap, log).CreateBuckets(ctx)

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(info); err != nil {
			return err
		}
		if info.Error {
			return errors.New("some buckets could not be created")
		}
		return nil
	},
}
