package incident

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/micguard/micguard/internal/util"
)

// startCleanupScheduler runs retention cleanup daily at 03:00 local time.
func (m *Manager) startCleanupScheduler() {
	go func() {
		for {
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next) {
				next = next.Add(24 * time.Hour)
			}

			slog.Info("incident cleanup: next run scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(time.Until(next)):
				m.runCleanup()
			case <-m.cleanupStopCh:
				slog.Info("incident cleanup scheduler stopped")
				return
			}
		}
	}()
}

// runCleanup removes dumps older than the configured retention.
func (m *Manager) runCleanup() {
	snap := m.cfg.Snapshot()
	if snap.Incidents.RetentionDays == 0 {
		// Retention 0 keeps dumps forever.
		return
	}

	deleted := m.cleanupLocal(snap.Incidents.RetentionDays)

	s3cfg := m.s3Config()
	if s3cfg.IsConfigured() {
		deleted += m.cleanupS3(s3cfg, snap.Incidents.RetentionDays)
	}

	if m.onCleanup != nil {
		m.onCleanup(deleted)
	}
}

// cleanupLocal removes local dump files older than retention days.
func (m *Manager) cleanupLocal(retentionDays int) int {
	dir := m.outputDir()
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("incident cleanup: failed to read dump directory", "path", dir, "error", err)
		}
		return 0
	}

	var deleted int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}

		fileDate, ok := util.ExtractDateFromFilename(entry.Name())
		if !ok {
			continue
		}

		if fileDate.Before(cutoff) {
			filePath := filepath.Join(dir, entry.Name())
			if err := os.Remove(filePath); err != nil {
				slog.Warn("incident cleanup: failed to delete file", "path", filePath, "error", err)
			} else {
				deleted++
				slog.Debug("incident cleanup: deleted file", "file", entry.Name())
			}
		}
	}

	if deleted > 0 {
		slog.Info("incident cleanup: deleted local dumps", "count", deleted)
	}
	return deleted
}

// cleanupS3 removes uploaded dumps older than retention days.
func (m *Manager) cleanupS3(cfg *S3Config, retentionDays int) int {
	client := createS3Client(cfg)
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		5*time.Minute,
		errors.New("s3 cleanup timeout"),
	)
	defer cancel()

	var deleted int
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(cfg.Bucket),
			Prefix: aws.String(s3KeyPrefix),
		}
		if continuationToken != nil {
			input.ContinuationToken = continuationToken
		}

		output, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			slog.Warn("incident cleanup: failed to list S3 objects", "bucket", cfg.Bucket, "error", err)
			return deleted
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			fileDate, ok := util.ExtractDateFromFilename(filepath.Base(key))
			if !ok {
				continue
			}

			if fileDate.Before(cutoff) {
				_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(cfg.Bucket),
					Key:    obj.Key,
				})
				if err != nil {
					slog.Warn("incident cleanup: failed to delete S3 object", "key", key, "error", err)
				} else {
					deleted++
					slog.Debug("incident cleanup: deleted S3 object", "key", key)
				}
			}
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		slog.Info("incident cleanup: deleted S3 dumps", "count", deleted)
	}
	return deleted
}
