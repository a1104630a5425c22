package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default config", cfg: DefaultConfig()},
		{name: "trace level", cfg: Config{Level: "trace", Format: "json", Output: "stdout"}},
		{name: "debug level", cfg: Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "warn level", cfg: Config{Level: "warn", Format: "json", Output: "stdout"}},
		{name: "warning level (alias)", cfg: Config{Level: "warning", Format: "json", Output: "stdout"}},
		{name: "error level", cfg: Config{Level: "error", Format: "json", Output: "stdout"}},
		{name: "info level", cfg: Config{Level: "info", Format: "json", Output: "stdout"}},
		{name: "text format", cfg: Config{Level: "info", Format: "text", Output: "stdout"}},
		{name: "stderr output", cfg: Config{Level: "info", Format: "json", Output: "stderr"}},
		{name: "empty output defaults to stdout", cfg: Config{Level: "info", Format: "json", Output: ""}},
		{name: "empty format defaults to json", cfg: Config{Level: "info", Format: "", Output: "stdout"}},
		{name: "invalid level defaults to info", cfg: Config{Level: "invalid", Format: "json", Output: "stdout"}},
		{name: "invalid format defaults to json", cfg: Config{Level: "info", Format: "invalid", Output: "stdout"}},
		{name: "with add source", cfg: Config{Level: "info", Format: "json", Output: "stdout", AddSource: true}},
		{
			name:    "invalid file path",
			cfg:     Config{Level: "info", Format: "json", Output: "/nonexistent/path/log.txt"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger without error")
			}
		})
	}
}

func TestNewWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goimap.log")

	logger, err := New(Config{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing expected message, got %q", data)
	}
}

func TestDefaultAndNop(t *testing.T) {
	if Default() == nil {
		t.Error("Default() returned nil")
	}
	if Nop() == nil {
		t.Error("Nop() returned nil")
	}
}

func TestLogger_ComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	for _, tt := range []struct {
		name string
		fn   func() *Logger
		want string
	}{
		{"session", logger.Session, "session"},
		{"wire", logger.Wire, "wire"},
		{"download", logger.Download, "download"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn().Info("msg")
			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if entry["component"] != tt.want {
				t.Errorf("component = %v, want %v", entry["component"], tt.want)
			}
		})
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	logger.WithFields("tag", "A1").Info("sent")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["tag"] != "A1" {
		t.Errorf("tag = %v, want A1", entry["tag"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	logger.WithError(errors.New("boom")).Error("failed")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}

	buf.Reset()
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = WithTag(ctx, "A1")
	ctx = WithCommand(ctx, "FETCH")
	ctx = WithMailbox(ctx, "INBOX")
	ctx = WithHost(ctx, "imap.example.com")

	attrs := extractContextAttrs(ctx)
	if len(attrs) != 4 {
		t.Fatalf("extractContextAttrs() returned %d attrs, want 4", len(attrs))
	}

	got := map[string]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.String()
	}
	want := map[string]string{
		"tag": "A1", "command": "FETCH", "mailbox": "INBOX", "host": "imap.example.com",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestLogger_ContextMethods(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	ctx := WithTag(context.Background(), "A7")

	logger.InfoContext(ctx, "executed")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["tag"] != "A7" {
		t.Errorf("tag = %v, want A7", entry["tag"])
	}

	buf.Reset()
	logger.ErrorContext(ctx, "failed", errors.New("NO"))
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["error"] != "NO" {
		t.Errorf("error = %v, want NO", entry["error"])
	}

	buf.Reset()
	logger.WarnContext(ctx, "throttled")
	logger.DebugContext(ctx, "frame")
}

func TestLogger_TraceAndFatal(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: levelTrace}))}

	logger.Trace("raw line", "bytes", 12)
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["msg"] != "raw line" {
		t.Errorf("msg = %v, want %q", entry["msg"], "raw line")
	}

	buf.Reset()
	logger.Fatal("connection died")
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}
