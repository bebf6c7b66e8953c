package portal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSessions_SaveAndProbe(t *testing.T) {
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	f := NewFileSessions(t.TempDir(), WithSessionClock(func() time.Time { return now }))

	err := f.SaveSession(SessionState{
		Platform:  "coordinaplus",
		ExpiresAt: now.Add(8 * time.Hour),
	})
	require.NoError(t, err)

	assert.NoError(t, f.HasValidSession("coordinaplus"))
}

func TestFileSessions_Expired(t *testing.T) {
	now := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	f := NewFileSessions(t.TempDir(), WithSessionClock(func() time.Time { return now }))

	require.NoError(t, f.SaveSession(SessionState{
		Platform:  "coordinaplus",
		ExpiresAt: now.Add(-time.Minute),
	}))

	err := f.HasValidSession("coordinaplus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestFileSessions_Missing(t *testing.T) {
	f := NewFileSessions(t.TempDir())

	err := f.HasValidSession("coordinaplus")
	require.Error(t, err)
}

func TestFileSessions_EmptyPlatform(t *testing.T) {
	f := NewFileSessions(t.TempDir())

	require.Error(t, f.HasValidSession(""))
	require.Error(t, f.SaveSession(SessionState{}))
}

func TestFileSessions_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "coordinaplus.json"), []byte("{not json"), 0o644))

	f := NewFileSessions(dir)
	err := f.HasValidSession("coordinaplus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse session")
}

func TestFileSessions_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFileSessions(dir)

	require.NoError(t, f.SaveSession(SessionState{
		Platform:  "coordinaplus",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "coordinaplus.json", entries[0].Name())
}
