package mediaupload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/trendcast/go-mediautils/network"
)

// StatusDryRun is the status of a CommitResult produced without contacting the service.
const StatusDryRun = "dry_run"

type dryRunPreview struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Title     string `json:"title"`
	MediaPath string `json:"media_path"`
	Status    string `json:"status"`
}

// dryRun writes what would have been uploaded to <outputDir>/dry_runs/media_upload/<id>.json.
func (u *Uploader) dryRun(outputDir, filePath, title string) (network.CommitResult, error) {
	preview := dryRunPreview{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Title:     title,
		MediaPath: filePath,
		Status:    StatusDryRun,
	}

	dir := filepath.Join(outputDir, "dry_runs", "media_upload")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create dry run dir: %w", err)
	}

	data, err := json.MarshalIndent(preview, "", "  ")
	if err != nil {
		return nil, err
	}
	previewPath := filepath.Join(dir, preview.ID+".json")
	if err := os.WriteFile(previewPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write dry run preview: %w", err)
	}

	u.logger.Donef("Dry run: upload preview written to %s", previewPath)
	return network.CommitResult{
		"id":           preview.ID,
		"status":       StatusDryRun,
		"preview_path": previewPath,
	}, nil
}
