package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurations(t *testing.T) {
	t.Run("default retry table", func(t *testing.T) {
		got, err := ParseDurations("1m,1440m,2880m,4320m")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{
			time.Minute,
			24 * time.Hour,
			48 * time.Hour,
			72 * time.Hour,
		}, got)
	})

	t.Run("whitespace and empty parts", func(t *testing.T) {
		got, err := ParseDurations(" 10ms, ,20ms ")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, got)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseDurations("1m,soon")
		assert.Error(t, err)
	})

	t.Run("rejects non-positive", func(t *testing.T) {
		_, err := ParseDurations("0s")
		assert.Error(t, err)
	})

	t.Run("rejects empty table", func(t *testing.T) {
		_, err := ParseDurations("")
		assert.Error(t, err)
	})
}

func TestParseTime(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := ParseTime("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = ParseTime("2026-03-04", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2026-03-04T10:30:00Z", fallback)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC), got)

	_, err = ParseTime("tomorrow", fallback)
	assert.Error(t, err)
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 5, ParseInt("5", 1))
	assert.Equal(t, 1, ParseInt("", 1))
	assert.Equal(t, 1, ParseInt("-3", 1))
	assert.Equal(t, 10, ParseInt("x", 10))
}

func TestInitLogger_WritesRotatedFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := InitLogger(AppConfig{Name: "installments-test", LogPath: dir})
	require.NoError(t, err)

	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "installments-test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"app":"installments-test"`)
}
