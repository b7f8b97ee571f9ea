package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Activity is one entry from the paginated activity listing. Unknown
// fields in the API payload are ignored.
type Activity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	StartDateLocal     string  `json:"start_date_local"`
	Distance           float64 `json:"distance"`
	MovingTime         int64   `json:"moving_time"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
}

// Validate checks the fields the export pipeline depends on. Blank name
// and type are normalized rather than rejected so a sloppily named
// activity still exports.
func (a *Activity) Validate() error {
	if a.ID <= 0 {
		return fmt.Errorf("invalid activity ID: %d", a.ID)
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		a.Name = fmt.Sprintf("Activity %d", a.ID)
	}
	a.Type = strings.TrimSpace(a.Type)
	if a.Type == "" {
		a.Type = "Workout"
	}
	return nil
}

// URL returns the canonical activity page on Strava.
func (a *Activity) URL() string {
	return fmt.Sprintf("https://www.strava.com/activities/%d", a.ID)
}

// StreamSet holds the per-activity sample streams. The three sequences
// are indexed by sample position but may have unequal lengths, and
// individual entries may be missing or malformed; consumers must check
// every entry. Values stay untyped here because the API occasionally
// delivers numbers as strings.
type StreamSet struct {
	LatLng   [][]any
	Time     []any
	Altitude []any
}

// UnmarshalJSON decodes the key-by-type streams payload
// ({"latlng": {"data": [...]}, ...}). A stream whose data is not a list
// is treated as absent; malformed entries are kept as placeholders so
// index alignment with the other streams survives.
func (s *StreamSet) UnmarshalJSON(data []byte) error {
	var payload map[string]struct {
		Data any `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	if stream, ok := payload["latlng"]; ok {
		if entries, ok := stream.Data.([]any); ok {
			s.LatLng = make([][]any, len(entries))
			for i, entry := range entries {
				pair, _ := entry.([]any)
				s.LatLng[i] = pair
			}
		}
	}
	if stream, ok := payload["time"]; ok {
		if entries, ok := stream.Data.([]any); ok {
			s.Time = entries
		}
	}
	if stream, ok := payload["altitude"]; ok {
		if entries, ok := stream.Data.([]any); ok {
			s.Altitude = entries
		}
	}
	return nil
}
