package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"

	"github.com/gpxbridge/models"
)

const (
	// DefaultBaseURL is the Strava v3 API root.
	DefaultBaseURL = "https://www.strava.com/api/v3"

	// DefaultTokenURL is the OAuth token exchange endpoint.
	DefaultTokenURL = "https://www.strava.com/oauth/token"

	// perPageMax is the server-side page size ceiling.
	perPageMax = 200

	// maxAttempts bounds the 429 retry loop (total attempts, not retries).
	maxAttempts = 3

	// backoffCap caps the escalating wait between 429 retries.
	backoffCap = 15 * time.Minute
)

// ErrNoToken is returned when an authenticated call is attempted before
// Authenticate has succeeded. Requests are never sent without a token.
var ErrNoToken = errors.New("no access token: call Authenticate first")

// ErrRateLimitExceeded is returned when the 429 retry budget is
// exhausted.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Client talks to the Strava API on behalf of a single athlete. It owns
// the bearer token and the rate-limit counters; it is not safe for
// concurrent use, by design: the export pipeline is strictly sequential
// to respect the narrow upstream rate limit.
type Client struct {
	BaseURL  string
	TokenURL string

	// RateLimit mirrors the quota counters the API reports on every
	// response.
	RateLimit models.RateLimitInfo

	clientID     string
	clientSecret string
	refreshToken string

	// delay is the proactive pause inserted before every request after
	// the first, independent of 429 backoff.
	delay time.Duration

	httpClient   *http.Client
	accessToken  string
	requestCount int

	// backoffBase is the first 429 retry wait (doubles per attempt).
	// Shrunk in tests.
	backoffBase time.Duration
}

// New creates a client for the given application credentials. delay is
// the pause inserted between consecutive API requests.
func New(clientID, clientSecret, refreshToken string, delay time.Duration) *Client {
	return &Client{
		BaseURL:      DefaultBaseURL,
		TokenURL:     DefaultTokenURL,
		RateLimit:    models.NewRateLimitInfo(),
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		delay:        delay,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		backoffBase:  30 * time.Second,
	}
}

// Authenticate trades the long-lived refresh token for a short-lived
// bearer token. The client is unusable until this succeeds.
func (c *Client) Authenticate() error {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", c.refreshToken)
	form.Set("grant_type", "refresh_token")

	log.Debugf("POST %s (grant_type=refresh_token, client_id=%s)", c.TokenURL, c.clientID)
	resp, err := c.httpClient.PostForm(c.TokenURL, form)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to obtain access token: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("token response contained no access token")
	}

	c.accessToken = token.AccessToken
	log.Info("Successfully obtained access token")
	return nil
}

// ListOptions are the optional server- and client-side filters for the
// activity listing.
type ListOptions struct {
	// ActivityType filters by the service's type tag, case-insensitively.
	// Applied client-side; the listing endpoint has no type parameter.
	ActivityType string

	// After and Before bound the activity start time. Sent server-side
	// as epoch seconds.
	After  *time.Time
	Before *time.Time
}

// GetRecentActivities fetches up to count activities, newest first,
// paginating at the server maximum until enough items have accumulated
// or a short or empty page signals the end of the data. A transport
// failure mid-pagination returns whatever was accumulated so far;
// partial results are a valid return, not an error.
func (c *Client) GetRecentActivities(count int, opts ListOptions) []models.Activity {
	var activities []models.Activity
	page := 1

	log.Infof("Fetching %d activities with pagination (max %d per request)...", count, perPageMax)

	for len(activities) < count {
		remaining := count - len(activities)
		perPage := perPageMax
		if remaining < perPage && opts.ActivityType == "" {
			// With a type filter active, pages must stay full-size or
			// filtered-out items would end pagination prematurely.
			perPage = remaining
		}

		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(perPage))
		if opts.After != nil {
			params.Set("after", strconv.FormatInt(opts.After.Unix(), 10))
		}
		if opts.Before != nil {
			params.Set("before", strconv.FormatInt(opts.Before.Unix(), 10))
		}

		log.Infof("  Requesting page %d with up to %d activities...", page, perPage)

		body, err := c.get("/athlete/activities", params)
		if err != nil {
			log.Errorf("Failed to fetch activities: %v", err)
			return activities
		}

		var pageActivities []models.Activity
		if err := json.Unmarshal(body, &pageActivities); err != nil {
			log.Errorf("Failed to parse activities page %d: %v", page, err)
			return activities
		}

		if len(pageActivities) == 0 {
			log.Infof("  No more activities available on page %d", page)
			break
		}

		for _, a := range pageActivities {
			if opts.ActivityType != "" && !strings.EqualFold(a.Type, opts.ActivityType) {
				continue
			}
			activities = append(activities, a)
		}
		log.Infof("  Retrieved %d activities (total: %d)", len(pageActivities), len(activities))

		if len(pageActivities) < perPage {
			log.Infof("  Reached end of activities (got %d, expected %d)", len(pageActivities), perPage)
			break
		}
		page++
	}

	if len(activities) > count {
		activities = activities[:count]
	}
	log.Infof("Found %d recent activities", len(activities))
	return activities
}

// streamKeys is the fixed key set requested for every activity.
const streamKeys = "latlng,time,altitude,distance,heartrate,cadence,watts"

// GetActivityStreams fetches the sample streams for one activity.
// Failures are logged and yield nil; the caller treats nil as "skip this
// activity".
func (c *Client) GetActivityStreams(activityID int64) *models.StreamSet {
	params := url.Values{}
	params.Set("keys", streamKeys)
	params.Set("key_by_type", "true")

	body, err := c.get(fmt.Sprintf("/activities/%d/streams", activityID), params)
	if err != nil {
		log.Errorf("Failed to fetch streams for activity %d: %v", activityID, err)
		return nil
	}

	var streams models.StreamSet
	if err := json.Unmarshal(body, &streams); err != nil {
		log.Errorf("Failed to parse streams for activity %d: %v", activityID, err)
		return nil
	}
	return &streams
}

// get performs one authenticated GET with the inter-request delay,
// rate-limit header tracking and bounded 429 backoff applied.
func (c *Client) get(path string, params url.Values) ([]byte, error) {
	if c.accessToken == "" {
		return nil, ErrNoToken
	}

	if c.requestCount > 0 && c.delay > 0 {
		log.Debugf("Sleeping %s before request", c.delay)
		time.Sleep(c.delay)
	}
	c.requestCount++

	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	backoff, err := retry.NewExponential(c.backoffBase)
	if err != nil {
		return nil, fmt.Errorf("failed to build backoff: %w", err)
	}
	backoff = retry.WithCappedDuration(backoffCap, backoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	var body []byte
	attempt := 0
	err = retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)

		log.Debugf("GET %s", endpoint)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		log.Debugf("Response %d for GET %s", resp.StatusCode, endpoint)

		c.updateRateLimitInfo(resp)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			log.Infof("Rate limit hit. Retry %d/%d...", attempt, maxAttempts)
			return retry.RetryableError(ErrRateLimitExceeded)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			log.Errorf("Request rejected with %d: check that the credentials are valid and the token has the activity:read_all scope", resp.StatusCode)
			return fmt.Errorf("request rejected: %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.checkRateLimit()
	return body, nil
}

// updateRateLimitInfo parses the usage/limit header pair present on
// every API response. Each header carries "short,daily". Malformed
// headers are ignored with a warning.
func (c *Client) updateRateLimitInfo(resp *http.Response) {
	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		fifteenMin, daily, err := parseRatePair(limit)
		if err != nil {
			log.Warnf("Failed to parse rate limit header %q: %v", limit, err)
		} else {
			c.RateLimit.SetLimits(fifteenMin, daily)
		}
	}
	if usage := resp.Header.Get("X-RateLimit-Usage"); usage != "" {
		fifteenMin, daily, err := parseRatePair(usage)
		if err != nil {
			log.Warnf("Failed to parse rate limit usage header %q: %v", usage, err)
		} else {
			c.RateLimit.SetUsage(fifteenMin, daily)
		}
	}
}

func parseRatePair(header string) (int, int, error) {
	parts := strings.Split(header, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("expected two comma-separated values")
	}
	fifteenMin, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	daily, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return fifteenMin, daily, nil
}

// checkRateLimit warns when either window is over 80% consumed.
// Observability only; behavior does not change.
func (c *Client) checkRateLimit() {
	if pct := c.RateLimit.FifteenMinPercent(); pct > 80 {
		log.Warnf("Using %.1f%% of 15-minute rate limit", pct)
	}
	if pct := c.RateLimit.DailyPercent(); pct > 80 {
		log.Warnf("Using %.1f%% of daily rate limit", pct)
	}
}
