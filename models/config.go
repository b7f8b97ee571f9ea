package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportConfig holds the parameters for one export run.
type ExportConfig struct {
	Count          int
	OutputDir      string
	Delay          time.Duration
	OrganizeByType bool
	Resume         bool

	// Optional filters. After and Before are normalized to UTC.
	ActivityType string
	After        *time.Time
	Before       *time.Time
}

const maxExportCount = 10000

func (c *ExportConfig) Validate() error {
	if c.Count <= 0 || c.Count > maxExportCount {
		return fmt.Errorf("count must be between 1 and %d, got %d", maxExportCount, c.Count)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	c.OutputDir = strings.TrimSpace(c.OutputDir)
	if c.Delay < 0 || c.Delay > 60*time.Second {
		return fmt.Errorf("delay must be between 0 and 60 seconds, got %s", c.Delay)
	}
	if c.After != nil && c.Before != nil && !c.After.Before(*c.Before) {
		return fmt.Errorf("--after (%s) must be earlier than --before (%s)",
			c.After.Format(time.RFC3339), c.Before.Format(time.RFC3339))
	}
	return nil
}

// Signature fingerprints the filter-relevant fields only. Two runs with
// the same activity type and time window share a signature regardless of
// count, output directory or delay, so a checkpoint written by one is
// valid for the other.
func (c *ExportConfig) Signature() string {
	var after, before string
	if c.After != nil {
		after = strconv.FormatInt(c.After.Unix(), 10)
	}
	if c.Before != nil {
		before = strconv.FormatInt(c.Before.Unix(), 10)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("type=%s|after=%s|before=%s", c.ActivityType, after, before)))
	return hex.EncodeToString(sum[:])
}
