package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if got := parseLevel("nonsense"); got != zapcore.InfoLevel {
		t.Errorf("Expected info, got %s", got)
	}
	if got := parseLevel("debug"); got != zapcore.DebugLevel {
		t.Errorf("Expected debug, got %s", got)
	}
}

func TestFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credit.log")
	log, err := NewFileLoggerWithOptions(path, "info", FileOptions{MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	log.Debug("hidden")
	log.Info("Intent completed", zap.String("intent", "01ABC"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"intent":"01ABC"`) {
		t.Errorf("Expected structured field in %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Error("Debug entry should be filtered at info level")
	}
}
