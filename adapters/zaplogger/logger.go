// Package zaplogger implements the glog logging contract on zap, writing JSON
// lines to a rotating file and optionally teeing to the console.
package zaplogger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultFileName = "relay.log"

type Config struct {
	// Dir holds the rotating log file. Empty disables the file sink.
	Dir        string
	FileName   string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console receives a console-encoded copy of every entry when set.
	Console io.Writer
}

func DefaultConfig() Config {
	return Config{
		Dir:        "logs",
		FileName:   defaultFileName,
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 7,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

type Logger struct {
	sugar *zap.SugaredLogger
	sink  io.Closer
}

func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(strings.ToLower(cfg.Level)))
	if err != nil {
		if strings.TrimSpace(cfg.Level) != "" {
			return nil, fmt.Errorf("zaplogger: %w", err)
		}
		level = zapcore.InfoLevel
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
		EncodeName:   zapcore.FullNameEncoder,
	}

	var (
		cores []zapcore.Core
		sink  *lumberjack.Logger
	)
	if dir := strings.TrimSpace(cfg.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("zaplogger: create log dir: %w", err)
		}
		name := strings.TrimSpace(cfg.FileName)
		if name == "" {
			name = defaultFileName
		}
		sink = &lumberjack.Logger{
			Filename:   filepath.Join(dir, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), level))
	}
	if cfg.Console != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(cfg.Console), level))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("zaplogger: no sink configured")
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if sink != nil {
		opts = append(opts, zap.ErrorOutput(zapcore.AddSync(sink)))
	}
	logger := &Logger{sugar: zap.New(zapcore.NewTee(cores...), opts...).Sugar()}
	if sink != nil {
		logger.sink = sink
	}
	return logger, nil
}

// NewFromCore wraps an existing zap core.
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{sugar: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Trace(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.sugar.Fatalw(msg, args...) }

func (l *Logger) WithContext(context.Context) glog.Logger {
	return l
}

// WithFields returns a child logger carrying fields in key order.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &Logger{sugar: l.sugar.With(args...), sink: l.sink}
}

// GetLogger returns a named child logger; it makes Logger a glog provider.
func (l *Logger) GetLogger(name string) glog.Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &Logger{sugar: l.sugar.Named(name), sink: l.sink}
}

// Close flushes buffered entries and closes the rotating file.
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// StdoutIsTerminal reports whether stdout is a character device.
func StdoutIsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.LoggerProvider = (*Logger)(nil)
	_ glog.FieldsLogger   = (*Logger)(nil)
)
