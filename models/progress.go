package models

import (
	"encoding/json"
	"os"

	log "github.com/sirupsen/logrus"
)

// ProgressFileName is the checkpoint sidecar written into the output
// directory.
const ProgressFileName = ".strava_export_progress.json"

// Progress is the durable record of an export run: which activities have
// been written, how far into the listing the run got, and the filter
// signature the listing was fetched with.
type Progress struct {
	ExportedActivities []int64 `json:"exported_activities"`
	LastActivityIndex  int     `json:"last_activity_index"`
	ConfigSignature    string  `json:"config_signature"`
}

func (p *Progress) valid() bool {
	if p.LastActivityIndex < 0 {
		return false
	}
	for _, id := range p.ExportedActivities {
		if id <= 0 {
			return false
		}
	}
	return true
}

// LoadProgress reads a checkpoint from path. A missing, unreadable or
// malformed file yields a fresh checkpoint with a warning; corrupt
// progress must never block an export.
func LoadProgress(path string) Progress {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Failed to read progress file %s: %v, starting fresh", path, err)
		}
		return Progress{}
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warnf("Failed to parse progress file %s: %v, starting fresh", path, err)
		return Progress{}
	}
	if !p.valid() {
		log.Warnf("Progress file %s contains invalid data, starting fresh", path)
		return Progress{}
	}
	return p
}

// SaveProgress writes the checkpoint atomically: the data goes to a
// temporary file in the same directory which is then renamed over the
// target, so a crash mid-write never corrupts the previous checkpoint.
// Failures are logged, not returned; losing one checkpoint interval is
// preferable to aborting the export.
func SaveProgress(path string, p Progress) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		log.Warnf("Failed to marshal progress: %v", err)
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Warnf("Failed to save progress: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Warnf("Failed to save progress: %v", err)
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Debugf("Failed to clean up temp progress file: %v", rmErr)
		}
	}
}
