package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
	"gorm.io/gorm"
)

// Cleanup deletes system_logs older than the retention period.
func Cleanup(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// RunCleanup runs Cleanup once a day until ctx is cancelled.
func RunCleanup(ctx context.Context, db *gorm.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deleted, err := Cleanup(ctx, db, retentionDays, time.Now().UTC())
			if err != nil {
				slog.Error("log cleanup failed", "op", "logging.cleanup", "error", err)
			} else if deleted > 0 {
				slog.Info("log cleanup completed", "op", "logging.cleanup", "deleted", deleted)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
