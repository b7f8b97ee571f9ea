package gpx

import (
	"encoding/json"
	"math"
	"strconv"
)

// toFloat converts a loosely typed sample value to a finite float64.
// JSON decoding delivers float64 for numbers, but the API sometimes
// sends numbers as strings, so those are converted too. NaN and
// infinities are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ValidCoordinates reports whether lat and lon form a usable GPS
// coordinate: both finite numbers (or numeric strings) with
// lat in [-90, 90] and lon in [-180, 180]. Invalid input of any kind
// yields false, never an error.
func ValidCoordinates(lat, lon any) bool {
	latF, ok := toFloat(lat)
	if !ok {
		return false
	}
	lonF, ok := toFloat(lon)
	if !ok {
		return false
	}
	return latF >= -90.0 && latF <= 90.0 && lonF >= -180.0 && lonF <= 180.0
}
