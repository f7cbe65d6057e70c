package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"error", LevelError},
		{"WARN", LevelWarn},
		{" info ", LevelInfo},
		{"Debug", LevelDebug},
		{"trace", LevelTrace},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)

	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "LEVEL(42)", LogLevel(42).String())
}

func TestWithPrefixSharesLevel(t *testing.T) {
	parent := NewLogger("TEST")
	child := parent.WithPrefix("child")

	parent.SetLevel(LevelTrace)
	assert.Equal(t, LevelTrace, child.Level())
	assert.True(t, child.shouldLog(LevelTrace))

	child.SetLevel(LevelError)
	assert.Equal(t, LevelError, parent.Level())
	assert.False(t, parent.shouldLog(LevelWarn))
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagfs.log")
	l := NewLogger("TEST")
	require.NoError(t, l.Configure(Options{File: path}))

	l.WithPrefix("index").Info("indexed %d files", 3)
	l.Debug("hidden at info level")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"indexed 3 files"`)
	assert.Contains(t, out, `"component":"index"`)
	assert.NotContains(t, out, "hidden at info level")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConfigureBadFile(t *testing.T) {
	l := NewLogger("TEST")
	err := l.Configure(Options{File: filepath.Join(t.TempDir(), "missing", "tagfs.log")})
	assert.Error(t, err)
}

func TestToJournalKey(t *testing.T) {
	assert.Equal(t, "COMPONENT", toJournalKey("component"))
	assert.Equal(t, "FILE_ID", toJournalKey("file-id"))
}
