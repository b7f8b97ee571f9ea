package cli

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gpxbridge/client"
	"github.com/gpxbridge/exporter"
	"github.com/gpxbridge/models"
)

const credentialHelp = `Missing Strava API credentials.

Options to provide credentials:
1. Environment variables:
   export STRAVA_CLIENT_ID='your_client_id'
   export STRAVA_CLIENT_SECRET='your_client_secret'
   export STRAVA_REFRESH_TOKEN='your_refresh_token'

2. Command line options:
   gpxbridge export --client-id ID --client-secret SECRET --refresh-token TOKEN

To get credentials:
1. Create an application at https://www.strava.com/settings/api
2. Run 'gpxbridge authorize' to obtain a refresh token`

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recent activities as GPX files",
	Long: `Export recent activities from your Strava account as GPX files.

Credentials are read from the STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET and
STRAVA_REFRESH_TOKEN environment variables, or from the corresponding flags.
A long export that is interrupted can be continued with --resume.`,
	RunE: runExport,
}

func init() {
	f := exportCmd.Flags()
	f.String("client-id", "", "Strava API client ID (or STRAVA_CLIENT_ID)")
	f.String("client-secret", "", "Strava API client secret (or STRAVA_CLIENT_SECRET)")
	f.String("refresh-token", "", "Strava refresh token (or STRAVA_REFRESH_TOKEN)")
	f.Int("count", 10, "number of recent activities to export")
	f.String("output-dir", "gpx_exports", "output directory for GPX files")
	f.Bool("organize-by-type", false, "create a subdirectory per activity type")
	f.Float64("delay", 1.0, "delay between API requests in seconds")
	f.Bool("resume", false, "resume an interrupted export from where it left off")
	f.String("activity-type", "", "only export activities of this type (e.g. Run, Ride)")
	f.String("after", "", "only export activities started after this time (ISO-8601)")
	f.String("before", "", "only export activities started before this time (ISO-8601)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()

	clientID := stringFlagOrEnv(cmd, "client-id", "client_id")
	clientSecret := stringFlagOrEnv(cmd, "client-secret", "client_secret")
	refreshToken := stringFlagOrEnv(cmd, "refresh-token", "refresh_token")

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		log.Error(credentialHelp)
		return fmt.Errorf("missing Strava API credentials")
	}

	count, _ := f.GetInt("count")
	outputDir, _ := f.GetString("output-dir")
	organize, _ := f.GetBool("organize-by-type")
	delaySeconds, _ := f.GetFloat64("delay")
	resume, _ := f.GetBool("resume")
	activityType, _ := f.GetString("activity-type")

	afterRaw, _ := f.GetString("after")
	after, err := parseTimeValue("after", afterRaw)
	if err != nil {
		return err
	}
	beforeRaw, _ := f.GetString("before")
	before, err := parseTimeValue("before", beforeRaw)
	if err != nil {
		return err
	}

	cfg := models.ExportConfig{
		Count:          count,
		OutputDir:      outputDir,
		Delay:          time.Duration(delaySeconds * float64(time.Second)),
		OrganizeByType: organize,
		Resume:         resume,
		ActivityType:   activityType,
		After:          after,
		Before:         before,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid export configuration: %w", err)
	}

	if cfg.Delay > 30*time.Second {
		log.Warnf("Large delay value (%s) may slow down exports significantly", cfg.Delay)
	}

	c := client.New(clientID, clientSecret, refreshToken, cfg.Delay)
	return exporter.New(c).Run(cfg)
}

// stringFlagOrEnv prefers an explicitly set flag over the viper-bound
// STRAVA_* environment variable.
func stringFlagOrEnv(cmd *cobra.Command, flag, key string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	return viper.GetString(key)
}

func parseTimeValue(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q: %w", name, raw, err)
	}
	t = t.UTC()
	return &t, nil
}
