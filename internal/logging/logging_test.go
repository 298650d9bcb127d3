package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetupFileCreatesRotatedLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stress-sim.log")

	logger := SetupFile("stress-sim", "test", path)
	logger.Info("run started", "configurations", 630)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected log file to contain at least one line")
	}
}
