// Package serve implements the serve command.
package serve

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/s3thumbs/s3thumbs/buckets"
	"github.com/s3thumbs/s3thumbs/cmd"
	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/health"
	"github.com/s3thumbs/s3thumbs/scan"
	"github.com/s3thumbs/s3thumbs/server"
	"github.com/s3thumbs/s3thumbs/stats"
	"github.com/s3thumbs/s3thumbs/storage/s3"
	"github.com/s3thumbs/s3thumbs/thumbnail"
	"github.com/s3thumbs/s3thumbs/version"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "serve",
	Short: "Provision the configured buckets and serve thumbnails over HTTP",
	RunE: func(command *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		cmd.InitLogging(settings)

		log := logrus.WithField("source", "core")
		log.Infof("s3thumbs %s starting: %s", version.Version, settings)

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

		provisioner := buckets.NewProvisioner(store, bucketsMap, log)
		state := health.NewState()
		if err := state.SetBucketsInfo(provisioner.CreateBuckets(ctx)); err != nil {
			return err
		}

		statsSvc, err := stats.Open(settings.StatsDB, logrus.WithField("source", "stats"))
		if err != nil {
			return err
		}

		scanner := scan.New(store, bucketsMap)
		thumbs := thumbnail.New(store, scanner, logrus.WithField("source", "thumbnail"))
		srv := server.New(settings, bucketsMap, thumbs, state, statsSvc, log)
		return srv.Run(ctx)
	},
}
