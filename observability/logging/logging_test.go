package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "susud", "test", slog.LevelDebug)
	logger.Debug("circle created", "circle", 1)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" || line["service"] != "susud" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSetupWithFileWritesRotatingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "susud.log")
	logger := SetupWithOptions("susud", "test", Options{File: path})
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hello"`)) {
		t.Fatalf("log file missing line: %s", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("HMACSecret", "s3cret").Value.String(); got != RedactedValue {
		t.Fatalf("expected secret to be masked, got %q", got)
	}
	if got := MaskField("listen", ":8080").Value.String(); got != ":8080" {
		t.Fatalf("expected plain value, got %q", got)
	}
	if got := MaskField("archive_dsn", "").Value.String(); got != "" {
		t.Fatalf("empty values stay empty, got %q", got)
	}
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
