package cli

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gpxbridge/auth"
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Run the one-time OAuth flow to obtain a refresh token",
	Long: `Run the interactive OAuth authorization flow for your Strava application.

This opens the Strava authorization page in a browser and listens on a local
port for the callback. On success the refresh token to use with 'export' is
printed. This is a one-time setup step.`,
	RunE: runAuthorize,
}

func init() {
	f := authorizeCmd.Flags()
	f.String("client-id", "", "Strava API client ID (or STRAVA_CLIENT_ID)")
	f.String("client-secret", "", "Strava API client secret (or STRAVA_CLIENT_SECRET)")
	f.Int("port", 8080, "local port for the OAuth callback listener")

	rootCmd.AddCommand(authorizeCmd)
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	clientID := stringFlagOrEnv(cmd, "client-id", "client_id")
	clientSecret := stringFlagOrEnv(cmd, "client-secret", "client_secret")
	if clientID == "" || clientSecret == "" {
		log.Error(credentialHelp)
		return fmt.Errorf("missing Strava API credentials")
	}

	port, _ := cmd.Flags().GetInt("port")

	return auth.Run(auth.Options{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Port:         port,
		Timeout:      3 * time.Minute,
	})
}
