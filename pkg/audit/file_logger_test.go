package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []*AuditEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []*AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event AuditEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, &event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func fixedClock(l *FileLogger, at *time.Time) {
	l.now = func() time.Time { return *at }
}

func TestFileLogger_WritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir})
	require.NoError(t, err)
	defer logger.Close()

	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	fixedClock(logger, &now)

	ctx := context.Background()
	require.NoError(t, logger.Log(ctx, &AuditEvent{EventType: EventTypePermissionDenied, UserID: "u1"}))
	require.NoError(t, logger.Log(ctx, &AuditEvent{EventType: EventTypeDataAccess, UserID: "u2"}))

	now = now.Add(2 * time.Minute)
	require.NoError(t, logger.Log(ctx, &AuditEvent{EventType: EventTypeRoleChange, UserID: "u3"}))

	first := readEvents(t, filepath.Join(dir, "security-2026-03-14.log"))
	require.Len(t, first, 2)
	assert.Equal(t, EventTypePermissionDenied, first[0].EventType)
	assert.Equal(t, "u2", first[1].UserID)

	second := readEvents(t, filepath.Join(dir, "security-2026-03-15.log"))
	require.Len(t, second, 1)
	assert.Equal(t, "u3", second[0].UserID)
}

func TestFileLogger_SizeContinuationAndPruning(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{Dir: dir, MaxSize: 10, MaxFiles: 2})
	require.NoError(t, err)
	defer logger.Close()

	now := time.Now().UTC()
	fixedClock(logger, &now)

	for i := 0; i < 4; i++ {
		require.NoError(t, logger.Log(context.Background(), &AuditEvent{EventType: EventTypePermissionCheck}))
	}

	files, err := logger.files()
	require.NoError(t, err)
	require.Len(t, files, 2)

	day := now.Format(time.DateOnly)
	assert.Equal(t, filepath.Join(dir, "security-"+day+".2.log"), files[0])
	assert.Equal(t, filepath.Join(dir, "security-"+day+".3.log"), files[1])
}

func TestFileLogger_ResumesExistingFile(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(FileLoggerConfig{Dir: dir})
		require.NoError(t, err)
		require.NoError(t, logger.Log(context.Background(), &AuditEvent{EventType: EventTypeDataAccess}))
		require.NoError(t, logger.Close())
	}

	day := time.Now().UTC().Format(time.DateOnly)
	assert.Len(t, readEvents(t, filepath.Join(dir, "security-"+day+".log")), 2)
}

func TestFileLogger_LogAfterClose(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	assert.ErrorIs(t, logger.Log(context.Background(), &AuditEvent{}), errFileLoggerClosed)
	assert.NoError(t, logger.Close())
}

func TestNewFileLogger_RequiresDir(t *testing.T) {
	_, err := NewFileLogger(FileLoggerConfig{})
	assert.Error(t, err)
}

func TestSplitLogName(t *testing.T) {
	day, part := splitLogName("/x/security-2026-01-02.log")
	assert.Equal(t, "2026-01-02", day)
	assert.Equal(t, 0, part)

	day, part = splitLogName("/x/security-2026-01-02.11.log")
	assert.Equal(t, "2026-01-02", day)
	assert.Equal(t, 11, part)
}
