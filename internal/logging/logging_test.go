package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/database/databasetest"
	"github.com/ahmetcoskunkizilkaya/subgate/internal/models"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestPGHandler_StoresErrorRecords(t *testing.T) {
	db := databasetest.Open(t)
	pg := NewPGHandler(db, time.Hour)
	t.Cleanup(pg.Stop)

	var buf bytes.Buffer
	logger := slog.New(NewMultiHandler(NewJSONHandler(&buf, slog.LevelInfo), pg)).With("op", "reconciler.sweep")

	logger.Info("sweep finished", "due", 0)
	logger.Error("eviction failed", "platform_id", int64(42), "error", errors.New("forbidden"), "latency_ms", 12.6, "attempts", 2)
	pg.Flush()

	assert.Contains(t, buf.String(), "sweep finished")
	assert.Contains(t, buf.String(), "eviction failed")

	var rows []models.SystemLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "ERROR", row.Level)
	assert.Equal(t, "reconciler.sweep", row.Op)
	assert.Equal(t, "forbidden", row.Error)
	require.NotNil(t, row.PlatformID)
	assert.Equal(t, int64(42), *row.PlatformID)
	assert.Equal(t, 13, row.LatencyMs)
	assert.JSONEq(t, `{"attempts":2}`, string(row.Extra))
}

func TestCleanup(t *testing.T) {
	db := databasetest.Open(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&[]models.SystemLog{
		{ID: uuid.New(), Timestamp: now.AddDate(0, 0, -31), Level: "ERROR"},
		{ID: uuid.New(), Timestamp: now.AddDate(0, 0, -1), Level: "ERROR"},
	}).Error)

	deleted, err := Cleanup(context.Background(), db, 30, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var n int64
	require.NoError(t, db.Model(&models.SystemLog{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
