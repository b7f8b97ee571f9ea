package gpx

import (
	"errors"
	"time"

	"github.com/araddon/dateparse"
	log "github.com/sirupsen/logrus"
	"github.com/tkrajina/gpxgo/gpx"

	"github.com/gpxbridge/models"
)

// ErrNoGeoData marks an activity without a coordinate stream, e.g. a
// treadmill session. Not an error worth retrying; the caller skips it.
var ErrNoGeoData = errors.New("activity has no GPS data")

// ErrNoValidPoints marks an activity whose coordinate stream contained
// no usable samples.
var ErrNoValidPoints = errors.New("activity has no valid GPS points")

const (
	minElevationMeters = -1000.0
	maxElevationMeters = 10000.0

	// Offsets beyond a week are treated as corrupt samples.
	maxTimeOffsetSeconds = 7 * 24 * 60 * 60
)

// ParseStartTime parses the activity's local start timestamp leniently.
// An unparseable timestamp falls back to the current time with a warning
// so a bad metadata field never blocks an otherwise exportable activity.
// The exported point times will be wrong in that case; see DESIGN.md.
func ParseStartTime(a models.Activity) time.Time {
	t, err := dateparse.ParseIn(a.StartDateLocal, time.UTC)
	if err != nil {
		log.Warnf("Failed to parse date %q for %s: %v", a.StartDateLocal, a.Name, err)
		return time.Now().UTC()
	}
	return t
}

// FromStreams converts an activity's raw sample streams into a GPX
// document with one track and one segment. Invalid coordinate pairs are
// dropped; invalid time offsets or elevations only drop that attribute,
// never the point.
func FromStreams(a models.Activity, streams *models.StreamSet) (*gpx.GPX, error) {
	if streams == nil || len(streams.LatLng) == 0 {
		log.Warnf("No GPS data available for activity %d", a.ID)
		return nil, ErrNoGeoData
	}

	start := ParseStartTime(a)

	doc := &gpx.GPX{
		Creator:     "gpxbridge",
		Name:        a.Name,
		Description: a.URL(),
		Time:        &start,
	}

	segment := gpx.GPXTrackSegment{}

	for i, pair := range streams.LatLng {
		if len(pair) < 2 {
			log.Debugf("Skipping malformed coordinate pair at point %d", i)
			continue
		}
		if !ValidCoordinates(pair[0], pair[1]) {
			log.Debugf("Invalid coordinates at point %d: lat=%v, lng=%v", i, pair[0], pair[1])
			continue
		}
		lat, _ := toFloat(pair[0])
		lon, _ := toFloat(pair[1])

		point := gpx.GPXPoint{
			Point: gpx.Point{Latitude: lat, Longitude: lon},
		}

		if i < len(streams.Time) {
			if secs, ok := toFloat(streams.Time[i]); ok && secs >= 0 && secs <= maxTimeOffsetSeconds {
				point.Timestamp = start.Add(time.Duration(secs * float64(time.Second)))
			}
		}

		if i < len(streams.Altitude) {
			if ele, ok := toFloat(streams.Altitude[i]); ok && ele >= minElevationMeters && ele <= maxElevationMeters {
				point.Elevation = *gpx.NewNullableFloat64(ele)
			}
		}

		segment.Points = append(segment.Points, point)
	}

	if len(segment.Points) == 0 {
		log.Warnf("No valid GPS points found for activity %d", a.ID)
		return nil, ErrNoValidPoints
	}

	track := gpx.GPXTrack{Name: a.Name}
	track.Segments = append(track.Segments, segment)
	doc.Tracks = append(doc.Tracks, track)

	log.Debugf("Created GPX with %d valid points for activity %d", len(segment.Points), a.ID)
	return doc, nil
}

// ToXML serializes a GPX document for writing to disk.
func ToXML(doc *gpx.GPX) ([]byte, error) {
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}
