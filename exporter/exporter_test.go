package exporter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gpxbridge/client"
	"github.com/gpxbridge/models"
)

// fakeAPI is a minimal upstream: token endpoint, one-page listing and
// per-activity streams, with selectable per-activity stream failures.
type fakeAPI struct {
	activities    []models.Activity
	failStreams   map[int64]bool
	streamsCalled map[int64]int
}

func (f *fakeAPI) server(t *testing.T) *httptest.Server {
	f.streamsCalled = map[int64]int{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			fmt.Fprint(w, `{"access_token": "tok"}`)
		case r.URL.Path == "/athlete/activities":
			json.NewEncoder(w).Encode(f.activities)
		case strings.HasPrefix(r.URL.Path, "/activities/"):
			var id int64
			fmt.Sscanf(r.URL.Path, "/activities/%d/streams", &id)
			f.streamsCalled[id]++
			if f.failStreams[id] {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{
                "latlng": {"data": [[47.6, -122.3], [47.7, -122.4]]},
                "time": {"data": [0, 10]},
                "altitude": {"data": [100.0, 101.0]}
            }`)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
}

func newExporter(srv *httptest.Server) *Exporter {
	c := client.New("id", "secret", "refresh", 0)
	c.BaseURL = srv.URL
	c.TokenURL = srv.URL + "/oauth/token"
	return New(c)
}

func threeActivities() []models.Activity {
	return []models.Activity{
		{ID: 101, Name: "Morning Run", Type: "Run", StartDateLocal: "2024-01-15T08:30:00Z"},
		{ID: 102, Name: "Lunch Ride", Type: "Ride", StartDateLocal: "2024-01-16T12:00:00Z"},
		{ID: 103, Name: "Evening Hike", Type: "Hike", StartDateLocal: "2024-01-17T18:00:00Z"},
	}
}

func gpxFiles(t *testing.T, dir string) []string {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".gpx") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
	return files
}

func TestRunExportsActivitiesAndSkipsFailures(t *testing.T) {
	api := &fakeAPI{
		activities:  threeActivities(),
		failStreams: map[int64]bool{102: true},
	}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	cfg := models.ExportConfig{Count: 3, OutputDir: dir}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if err := newExporter(srv).Run(cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	files := gpxFiles(t, dir)
	if len(files) != 2 {
		t.Fatalf("expected 2 GPX files, got %d: %v", len(files), files)
	}

	// The partial run leaves a checkpoint naming exactly the successes.
	progress := models.LoadProgress(filepath.Join(dir, models.ProgressFileName))
	if len(progress.ExportedActivities) != 2 ||
		progress.ExportedActivities[0] != 101 || progress.ExportedActivities[1] != 103 {
		t.Errorf("checkpoint ids = %v, want [101 103]", progress.ExportedActivities)
	}
	if progress.ConfigSignature != cfg.Signature() {
		t.Error("checkpoint signature does not match config")
	}
}

func TestRunDeletesCheckpointOnCompletion(t *testing.T) {
	api := &fakeAPI{activities: threeActivities()}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	cfg := models.ExportConfig{Count: 3, OutputDir: dir}

	if err := newExporter(srv).Run(cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(gpxFiles(t, dir)) != 3 {
		t.Error("expected 3 GPX files")
	}
	if _, err := os.Stat(filepath.Join(dir, models.ProgressFileName)); !os.IsNotExist(err) {
		t.Error("checkpoint should be deleted after a clean completion")
	}
}

func TestRunFilenameScheme(t *testing.T) {
	api := &fakeAPI{activities: threeActivities()[:1]}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	if err := newExporter(srv).Run(models.ExportConfig{Count: 1, OutputDir: dir}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := filepath.Join(dir, "20240115_run_morning-run_101.gpx")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected file %s: %v", want, err)
	}
}

func TestRunOrganizeByType(t *testing.T) {
	api := &fakeAPI{activities: threeActivities()}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	cfg := models.ExportConfig{Count: 3, OutputDir: dir, OrganizeByType: true}
	if err := newExporter(srv).Run(cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, sub := range []string{"run", "ride", "hike"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil || len(entries) != 1 {
			t.Errorf("expected one file in %s/, err=%v", sub, err)
		}
	}
}

func TestRunResumeSkipsExported(t *testing.T) {
	api := &fakeAPI{activities: threeActivities()}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	cfg := models.ExportConfig{Count: 3, OutputDir: dir, Resume: true}

	// Checkpoint from an interrupted run: activity 101 already done.
	models.SaveProgress(filepath.Join(dir, models.ProgressFileName), models.Progress{
		ExportedActivities: []int64{101},
		LastActivityIndex:  0,
		ConfigSignature:    cfg.Signature(),
	})

	if err := newExporter(srv).Run(cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if api.streamsCalled[101] != 0 {
		t.Error("already exported activity must not be re-downloaded")
	}
	if api.streamsCalled[102] != 1 || api.streamsCalled[103] != 1 {
		t.Errorf("remaining activities not fetched: %v", api.streamsCalled)
	}
	if len(gpxFiles(t, dir)) != 2 {
		t.Error("expected the two remaining activities on disk")
	}
	// 1 resumed + 2 new = all 3, so the checkpoint is cleaned up.
	if _, err := os.Stat(filepath.Join(dir, models.ProgressFileName)); !os.IsNotExist(err) {
		t.Error("checkpoint should be deleted once everything is exported")
	}
}

func TestRunResumeMismatchedSignatureStartsFresh(t *testing.T) {
	api := &fakeAPI{activities: threeActivities()}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	cfg := models.ExportConfig{Count: 3, OutputDir: dir, Resume: true}

	// Checkpoint written under different filters.
	models.SaveProgress(filepath.Join(dir, models.ProgressFileName), models.Progress{
		ExportedActivities: []int64{101, 102},
		LastActivityIndex:  1,
		ConfigSignature:    "different-filters",
	})

	if err := newExporter(srv).Run(cfg); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Prior progress is discarded: everything is fetched and exported.
	for _, id := range []int64{101, 102, 103} {
		if api.streamsCalled[id] != 1 {
			t.Errorf("activity %d fetched %d times, want 1", id, api.streamsCalled[id])
		}
	}
	if len(gpxFiles(t, dir)) != 3 {
		t.Error("expected all 3 activities exported from scratch")
	}
}

func TestRunTokenFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			http.Error(w, "bad credentials", http.StatusBadRequest)
			return
		}
		t.Errorf("no API call should happen without a token, got %s", r.URL.Path)
	}))
	defer srv.Close()

	err := newExporter(srv).Run(models.ExportConfig{Count: 3, OutputDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error when token acquisition fails")
	}
}

func TestRunEmptyListing(t *testing.T) {
	api := &fakeAPI{activities: []models.Activity{}}
	srv := api.server(t)
	defer srv.Close()

	dir := t.TempDir()
	if err := newExporter(srv).Run(models.ExportConfig{Count: 3, OutputDir: dir}); err != nil {
		t.Fatalf("empty listing is not an error: %v", err)
	}
	if len(gpxFiles(t, dir)) != 0 {
		t.Error("no files expected")
	}
	if _, err := os.Stat(filepath.Join(dir, models.ProgressFileName)); !os.IsNotExist(err) {
		t.Error("no checkpoint expected for an empty listing")
	}
}

func TestSafeSlug(t *testing.T) {
	tests := []struct {
		in       string
		max      int
		fallback string
		want     string
	}{
		{"Morning Run", 0, "x", "morning-run"},
		{"  ", 0, "unnamed-activity", "unnamed-activity"},
		{"!!!", 0, "unknown-type", "unknown-type"},
		{"A very long activity name that keeps going", 10, "x", "a-very-lon"},
		{"Trail/Run\\2024", 0, "x", "trail-run-2024"},
	}
	for _, tt := range tests {
		if got := safeSlug(tt.in, tt.max, tt.fallback); got != tt.want {
			t.Errorf("safeSlug(%q, %d) = %q, want %q", tt.in, tt.max, tt.fallback, got)
		}
	}
}
