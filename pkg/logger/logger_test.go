package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		logFile string
		wantErr bool
	}{
		{
			name:  "debug level without file",
			level: "debug",
		},
		{
			name:  "warn level without file",
			level: "warn",
		},
		{
			name:  "unknown level falls back to info",
			level: "verbose",
		},
		{
			name:    "info level with log file",
			level:   "info",
			logFile: filepath.Join(t.TempDir(), "server.log"),
		},
		{
			name:    "unwritable log file",
			level:   "info",
			logFile: filepath.Join(t.TempDir(), "missing", "dir", "server.log"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Log = zap.NewNop()

			err := Init(tt.level, tt.logFile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}

			if Log == nil {
				t.Fatal("Log is nil after Init()")
			}

			_ = Sync()
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWithLogFileWritesEntries(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init() with log file failed: %v", err)
	}

	Named("test").Info("hello")
	_ = Sync()

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("log file is empty")
	}
}

func TestSyncWithNilLogger(t *testing.T) {
	Log = nil
	defer func() { Log = zap.NewNop() }()

	if err := Sync(); err != nil {
		t.Errorf("Sync() with nil logger = %v, want nil", err)
	}
}
