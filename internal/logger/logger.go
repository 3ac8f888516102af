package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variable to configure log file path.
const envLogPath = "SHMKV_LOG"

var (
	std           *zap.SugaredLogger
	isInitialized bool
)

// InitFromEnv initializes the logger using SHMKV_LOG or a default path.
// SHMKV_LOG=stderr logs to standard error.
func InitFromEnv() error {
	path := os.Getenv(envLogPath)
	if path == "" {
		// Default to the directory where the executable is located
		if exePath, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exePath)
			path = filepath.Join(exeDir, "shmkv.log")
		} else {
			// Fallback to current directory if executable path cannot be determined
			path = "./shmkv.log"
		}
	}
	return Init(path)
}

// Init initializes the logger to write JSON lines to the provided path.
// It creates parent directories if needed and appends to existing files.
func Init(path string) error {
	if isInitialized {
		return nil
	}
	if path != "stderr" && path != "stdout" {
		if err := ensureParentDir(path); err != nil {
			return err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if os.Getenv("SHMKV_DEBUG") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	std = l.Sugar()
	isInitialized = true
	return nil
}

// Close flushes buffered log entries.
func Close() error {
	if std != nil {
		// Sync on a terminal returns EINVAL; there is nothing left to flush.
		_ = std.Sync()
	}
	return nil
}

// L returns the process logger for injection into components, or a no-op
// logger when Init has not run.
func L() *zap.SugaredLogger {
	if std == nil {
		return zap.NewNop().Sugar()
	}
	return std
}

// Printf logs a formatted message at info level.
func Printf(format string, args ...any) { L().Infof(format, args...) }

// Infof logs informational messages.
func Infof(format string, args ...any) { L().Infof(format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { L().Warnf(format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { L().Errorf(format, args...) }

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
