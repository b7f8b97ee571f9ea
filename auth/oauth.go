// Package auth implements the one-time interactive OAuth
// authorization-code flow used to obtain the refresh token that the
// export pipeline consumes. It is not part of the steady-state export
// loop.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cli/browser"
	log "github.com/sirupsen/logrus"
)

const (
	authorizeURL    = "https://www.strava.com/oauth/authorize"
	defaultTokenURL = "https://www.strava.com/oauth/token"
	scope           = "activity:read_all"
)

// Options configures one authorization flow.
type Options struct {
	ClientID     string
	ClientSecret string
	Port         int
	Timeout      time.Duration

	// TokenURL overrides the token endpoint in tests.
	TokenURL string
}

// Tokens is the payload returned by the code exchange.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type"`
	Athlete      struct {
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
	} `json:"athlete"`
}

// Run opens the authorization page in a browser, waits for the callback
// on a local listener, exchanges the code for tokens and prints the
// refresh token. Blocks until the flow completes or the timeout elapses.
func Run(opts Options) error {
	state, err := randomState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	redirectURI := fmt.Sprintf("http://localhost:%d/callback", opts.Port)

	params := url.Values{}
	params.Set("client_id", opts.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURI)
	params.Set("approval_prompt", "force")
	params.Set("scope", scope)
	params.Set("state", state)
	authURL := authorizeURL + "?" + params.Encode()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	server := &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", opts.Port),
		Handler: mux,
	}
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			log.Errorf("Received OAuth callback with unexpected state: %q", q.Get("state"))
			http.Error(w, "State mismatch. Please retry the authorization.", http.StatusBadRequest)
			return
		}
		if errMsg := q.Get("error"); errMsg != "" {
			http.Error(w, "Authorization was denied.", http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization denied: %s", errMsg)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization failed: no code received.", http.StatusBadRequest)
			errChan <- fmt.Errorf("authorization failed, no code received")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Authorization successful! You can close this window and return to the terminal.</body></html>")
		codeChan <- code
	})

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Info("Opening the Strava authorization page in your browser...")
	if err := browser.OpenURL(authURL); err != nil {
		log.Warnf("Failed to open browser: %v", err)
	}
	log.Infof("If no browser opens, visit:\n%s", authURL)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	select {
	case code := <-codeChan:
		return exchangeCode(opts, redirectURI, code)
	case err := <-errChan:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s waiting for authorization", timeout)
	}
}

func exchangeCode(opts Options, redirectURI, code string) error {
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	form := url.Values{}
	form.Set("client_id", opts.ClientID)
	form.Set("client_secret", opts.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)

	resp, err := http.PostForm(tokenURL, form)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token exchange failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokens Tokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokens.RefreshToken == "" {
		return fmt.Errorf("token response contained no refresh token")
	}

	name := strings.TrimSpace(tokens.Athlete.Firstname + " " + tokens.Athlete.Lastname)
	if name != "" {
		log.Infof("Authorized as %s", name)
	}
	log.Info("Authorization complete. Add this to your environment:")
	fmt.Printf("\nexport STRAVA_REFRESH_TOKEN='%s'\n\n", tokens.RefreshToken)
	log.Info("Then run: gpxbridge export --count 5 --output-dir ./exports")
	return nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
