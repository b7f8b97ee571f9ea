package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gpxbridge/client"
	"github.com/gpxbridge/gpx"
	"github.com/gpxbridge/models"
)

// saveEvery is how many successful exports pass between checkpoint
// writes.
const saveEvery = 5

// statusEvery is how many processed activities pass between rate-limit
// status log lines.
const statusEvery = 10

const maxNameSlugLength = 30

var titleCaser = cases.Title(language.English)

// Exporter drives one export run: list activities, then for each one
// fetch streams, convert to GPX, write the file and checkpoint progress.
// Strictly sequential; the upstream rate limit leaves no quota to waste
// on parallel requests.
type Exporter struct {
	client *client.Client
}

func New(c *client.Client) *Exporter {
	return &Exporter{client: c}
}

// Run executes the export described by cfg. Only token acquisition
// failure is a returned error; everything that goes wrong for a single
// activity is logged and skipped so one bad activity cannot abort a
// multi-hour export.
func (e *Exporter) Run(cfg models.ExportConfig) error {
	if err := e.client.Authenticate(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	progressFile := filepath.Join(cfg.OutputDir, models.ProgressFileName)
	signature := cfg.Signature()
	progress := models.Progress{ConfigSignature: signature}

	if cfg.Resume {
		existing := models.LoadProgress(progressFile)
		if existing.ConfigSignature != "" && existing.ConfigSignature != signature {
			log.Warn("Progress file filters differ from current request; starting fresh")
		} else {
			progress = existing
			progress.ConfigSignature = signature
			if len(progress.ExportedActivities) > 0 {
				log.Infof("Resuming export from activity %d", progress.LastActivityIndex+1)
			}
		}
	}

	log.Infof("Fetching %d recent activities...", cfg.Count)
	activities := e.client.GetRecentActivities(cfg.Count, client.ListOptions{
		ActivityType: cfg.ActivityType,
		After:        cfg.After,
		Before:       cfg.Before,
	})

	if len(activities) == 0 {
		if cfg.ActivityType != "" || cfg.After != nil || cfg.Before != nil {
			log.Warn("No activities matched the requested filters")
		} else {
			log.Warn("No activities found")
		}
		return nil
	}

	startIndex := 0
	if cfg.Resume {
		startIndex = progress.LastActivityIndex
	}
	if startIndex >= len(activities) {
		log.Info("All activities already exported")
		return nil
	}

	log.Infof("Exporting %d activities to GPX...", len(activities)-startIndex)
	log.Infof("Rate limiting: %s delay between requests", cfg.Delay)

	successCount := len(progress.ExportedActivities)
	total := len(activities)

	for i := startIndex; i < total; i++ {
		activity := activities[i]
		if cfg.Resume && containsID(progress.ExportedActivities, activity.ID) {
			log.Debugf("Activity %d already exported, skipping", activity.ID)
			continue
		}
		log.Infof("[%d/%d] Processing activity %d...", i+1, total, activity.ID)

		if e.exportActivity(activity, cfg) {
			successCount++
			progress.ExportedActivities = append(progress.ExportedActivities, activity.ID)
			progress.LastActivityIndex = i
			progress.ConfigSignature = signature

			if len(progress.ExportedActivities)%saveEvery == 0 {
				models.SaveProgress(progressFile, progress)
			}
		}

		if (i+1)%statusEvery == 0 {
			log.Infof("Rate limit usage: %.1f%% (15min), %.1f%% (daily)",
				e.client.RateLimit.FifteenMinPercent(), e.client.RateLimit.DailyPercent())
		}
	}

	if successCount == total {
		// Clean completion, nothing left to resume.
		if err := os.Remove(progressFile); err != nil && !os.IsNotExist(err) {
			log.Debugf("Failed to remove progress file: %v", err)
		}
	} else {
		models.SaveProgress(progressFile, progress)
	}

	log.Infof("Successfully exported %d/%d activities", successCount, total)
	if successCount > 0 {
		if abs, err := filepath.Abs(cfg.OutputDir); err == nil {
			log.Infof("GPX files saved in: %s", abs)
		}
	}
	if successCount < total {
		log.Info("To resume: add --resume flag to continue from where you left off")
	}
	return nil
}

// exportActivity runs the per-activity pipeline: fetch streams, convert,
// write. Returns whether the file was written; every failure path logs
// and returns false.
func (e *Exporter) exportActivity(activity models.Activity, cfg models.ExportConfig) bool {
	if err := activity.Validate(); err != nil {
		log.Errorf("Invalid activity data: %v", err)
		return false
	}

	start := gpx.ParseStartTime(activity)
	log.Infof("Processing: %s | %s | %s",
		start.Format("2006-01-02"), titleCaser.String(activity.Type), activity.Name)

	streams := e.client.GetActivityStreams(activity.ID)
	if streams == nil {
		return false
	}

	doc, err := gpx.FromStreams(activity, streams)
	if err != nil {
		return false
	}

	outDir := cfg.OutputDir
	if cfg.OrganizeByType {
		outDir = filepath.Join(outDir, safeSlug(strings.ToLower(activity.Type), 0, "unknown-type"))
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Errorf("Failed to create output directory %q: %v", outDir, err)
		return false
	}

	filename := fmt.Sprintf("%s_%s_%s_%d.gpx",
		start.Format("20060102"),
		safeSlug(activity.Type, 0, "unknown-type"),
		safeSlug(activity.Name, maxNameSlugLength, "unnamed-activity"),
		activity.ID)
	path := filepath.Join(outDir, filename)

	data, err := gpx.ToXML(doc)
	if err != nil {
		log.Errorf("Failed to serialize GPX for activity %d: %v", activity.ID, err)
		return false
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Errorf("Failed to save %s: %v", path, err)
		return false
	}

	log.Infof("Saved: %s", path)
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// safeSlug slugifies text for use in file and directory names, with a
// fallback for text that slugifies to nothing (e.g. emoji-only names).
func safeSlug(text string, maxLength int, fallback string) string {
	s := slug.Make(text)
	if maxLength > 0 && len(s) > maxLength {
		s = strings.Trim(s[:maxLength], "-")
	}
	if s == "" {
		return fallback
	}
	return s
}
