package cli

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "gpxbridge",
	Short: "Export GPS activity data from Strava as GPX files",
	Long: `gpxbridge exports recorded activities from your Strava account as GPX files.

It fetches activity metadata and full-resolution GPS streams through the
Strava API, converts them to GPX tracks and writes one file per activity.
Exports are resumable: progress is checkpointed to disk so an interrupted
run can continue with --resume.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
		})
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// Credentials come from STRAVA_* environment variables unless
	// overridden with flags on the subcommands.
	viper.SetEnvPrefix("STRAVA")
	viper.BindEnv("client_id")
	viper.BindEnv("client_secret")
	viper.BindEnv("refresh_token")
}
