package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/model"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "json", Level: "warn"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "app", "a1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "a1", rec["app"])
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, nil, false)).With("component", "supervisor")
	l.Error("boom")
	out := buf.String()
	assert.Contains(t, out, "\033[31mERROR\033[0m")
	assert.Contains(t, out, "msg=boom")
	assert.Contains(t, out, "component=supervisor")
	assert.NotContains(t, out, "time=")
	assert.NotContains(t, out, `\x1b`)
	assert.NotContains(t, out, "level=")
	assert.Equal(t, 1, strings.Count(out, "\n"))

	buf.Reset()
	l.WithGroup("req").Info("ok", "id", 7)
	assert.True(t, strings.HasPrefix(buf.String(), "\033[32mINFO\033[0m  msg=ok"), buf.String())
	assert.Contains(t, buf.String(), "req.id=7")
}

func TestAppWriters_Dir(t *testing.T) {
	dir := t.TempDir()
	outW, errW, err := AppWriters("my app", model.LogConfig{}, dir)
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	_ = outW.Close()
	_ = errW.Close()

	_, err = os.Stat(filepath.Join(dir, "my_app.stdout.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "my_app.stderr.log"))
	assert.NoError(t, err)
}

func TestAppWriters_AppDirWins(t *testing.T) {
	appDir := filepath.Join(t.TempDir(), "nested")
	outW, errW, err := AppWriters("svc", model.LogConfig{Dir: appDir}, t.TempDir())
	require.NoError(t, err)
	_, _ = outW.Write([]byte("x"))
	_ = outW.Close()
	_ = errW.Close()
	_, err = os.Stat(filepath.Join(appDir, "svc.stdout.log"))
	assert.NoError(t, err)
}

func TestAppWriters_NoDir(t *testing.T) {
	outW, errW, err := AppWriters("svc", model.LogConfig{}, "")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)
}

func TestSetup_File(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "logs", "taskvisor.log")
	c, err := Setup(Config{File: path, Format: "text"})
	require.NoError(t, err)
	slog.Info("to file", "k", "v")
	require.NoError(t, c.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to file")
}
